//go:build unix

package pool

import (
	"errors"

	"golang.org/x/sys/unix"
)

// AddFileCleanup registers a cleanup that closes fd. The name is used only
// for logging.
func (p *Pool) AddFileCleanup(fd int, name string) (*Cleanup, error) {
	c, err := p.CleanupAdd(0)
	if err != nil {
		return nil, err
	}
	c.file = &fileCleanup{fd: fd, name: name}
	c.Handler = func([]byte) { p.closeFile(c.file) }
	return c, nil
}

// AddDeleteFileCleanup registers a cleanup that removes name, then closes fd.
// A name that no longer exists is not an error.
func (p *Pool) AddDeleteFileCleanup(fd int, name string) (*Cleanup, error) {
	c, err := p.CleanupAdd(0)
	if err != nil {
		return nil, err
	}
	c.file = &fileCleanup{fd: fd, name: name, unlink: true}
	c.Handler = func([]byte) { p.deleteFile(c.file) }
	return c, nil
}

// RunFileCleanup runs the close cleanup registered for fd by AddFileCleanup
// immediately, and disarms it so Destroy won't run it again. It reports
// whether such a cleanup was found.
func (p *Pool) RunFileCleanup(fd int) bool {
	for c := p.cleanup; c != nil; c = c.next {
		if c.file != nil && !c.file.unlink && c.file.fd == fd && c.Handler != nil {
			c.Handler(c.Data)
			c.Handler = nil
			return true
		}
	}
	return false
}

func (p *Pool) closeFile(f *fileCleanup) {
	p.logger.Debug().
		Int("fd", f.fd).
		Str("name", f.name).
		Log("pool: file cleanup")

	if err := unix.Close(f.fd); err != nil {
		p.logger.Alert().
			Int("fd", f.fd).
			Str("name", f.name).
			Err(err).
			Log("pool: close failed")
	}
}

func (p *Pool) deleteFile(f *fileCleanup) {
	p.logger.Debug().
		Int("fd", f.fd).
		Str("name", f.name).
		Log("pool: delete file cleanup")

	if err := unix.Unlink(f.name); err != nil && !errors.Is(err, unix.ENOENT) {
		p.logger.Crit().
			Str("name", f.name).
			Err(err).
			Log("pool: unlink failed")
	}

	p.closeFile(f)
}
