// Package logging builds the structured JSON logger shared by the module's
// packages, backed by stumpy.
package logging

import (
	"io"

	"github.com/joeycumines/logiface"
	"github.com/joeycumines/stumpy"
)

// New returns a JSON logger writing one object per line to w, enabled at
// level and above. The time field is omitted, which keeps output stable.
func New(w io.Writer, level logiface.Level) *logiface.Logger[logiface.Event] {
	return stumpy.L.New(
		stumpy.L.WithStumpy(
			stumpy.WithWriter(w),
			stumpy.WithTimeField(``),
		),
		stumpy.L.WithLevel(level),
	).Logger()
}
