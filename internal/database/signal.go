package database

import (
	"context"
	"os"
	"os/signal"
	"sync"
	"syscall"
)

// ShutdownFunc is told about every SIGINT/SIGTERM. n counts the signals seen
// so far; the first one has already started cancellation.
type ShutdownFunc func(sig os.Signal, n int)

// NotifyShutdown derives a context from parent that is canceled on the first
// SIGINT or SIGTERM. Later signals only reach onSignal, which lets the caller
// force an exit while the pipeline is still draining. The returned stop
// function releases the signal subscription.
func NotifyShutdown(parent context.Context, onSignal ShutdownFunc) (context.Context, context.CancelFunc) {
	ctx, cancel := context.WithCancel(parent)

	sigChan := make(chan os.Signal, 2)
	signal.Notify(sigChan, syscall.SIGTERM, syscall.SIGINT)
	done := make(chan struct{})

	go func() {
		defer signal.Stop(sigChan)
		n := 0
		for {
			select {
			case sig := <-sigChan:
				n++
				if onSignal != nil {
					onSignal(sig, n)
				}
				cancel()
			case <-done:
				return
			}
		}
	}()

	var once sync.Once
	return ctx, func() {
		once.Do(func() { close(done) })
		cancel()
	}
}
