//go:build !linux

package event

func newDefaultPoller() (Poller, error) {
	return NewTimerPoller(), nil
}
