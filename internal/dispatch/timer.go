package dispatch

import (
	"sync"
	"time"
)

// Timer schedules callbacks. Every must not invoke fn concurrently with
// itself. The returned stop functions are idempotent and may be called from
// inside fn.
type Timer interface {
	Every(d time.Duration, fn func()) (stop func())
	After(d time.Duration, fn func()) (stop func())
}

// SystemTimer is the Timer backed by package time.
type SystemTimer struct{}

func (SystemTimer) Every(d time.Duration, fn func()) func() {
	done := make(chan struct{})
	ticker := time.NewTicker(d)
	go func() {
		defer ticker.Stop()
		for {
			select {
			case <-done:
				return
			case <-ticker.C:
				select {
				case <-done:
					return
				default:
				}
				fn()
			}
		}
	}()

	var once sync.Once
	return func() { once.Do(func() { close(done) }) }
}

func (SystemTimer) After(d time.Duration, fn func()) func() {
	t := time.AfterFunc(d, fn)
	return func() { t.Stop() }
}
