package conductor

import (
	"os"
	"os/signal"
	"syscall"
)

// Noisy makes the Conductor log service lifecycle transitions.
func Noisy() func(*Conductor) {
	return func(c *Conductor) {
		c.noisy = true
	}
}

// HookSignals shuts the Conductor down on SIGTERM or SIGINT.
func HookSignals() func(*Conductor) {
	return func(c *Conductor) {
		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT)
		go func() {
			for {
				select {
				case sig := <-sigCh:
					c.logf("caught %v, shutting down\n", sig)
					c.Stop()
					continue
				case <-c.shutdown:
					return
				}
			}
		}()
	}
}
