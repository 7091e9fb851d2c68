package conductor

import (
	"context"
	"fmt"
	"sync"
	"time"
)

const (
	startupTimeout  = 5 * time.Second
	shutdownTimeout = 5 * time.Second
)

// Service is a long-lived component managed by the Conductor. Run must
// not block: it signals readiness on the first channel, reports on the
// second once it has stopped, and shuts down when the third delivers a
// context.
type Service interface {
	Run(started chan bool, stopped chan bool, stop chan context.Context) error
}

type serviceState struct {
	name     string
	service  Service
	ready    chan bool
	stopped  chan bool
	shutdown chan context.Context
}

// Conductor starts services in registration order and stops them
// together on shutdown.
type Conductor struct {
	started  bool
	noisy    bool
	shutdown chan bool // closed once everything has stopped; returned from Start
	services []*serviceState
}

func NewConductor(opts ...func(*Conductor)) *Conductor {
	c := Conductor{
		shutdown: make(chan bool),
		services: []*serviceState{},
	}
	for _, optFn := range opts {
		optFn(&c)
	}
	return &c
}

// Service registers a named service. Registration order is start order,
// which gives us dependency ordering for free.
func (c *Conductor) Service(name string, service Service) {
	if c.started {
		panic("Cannot call Conductor.Service after Conductor.Start")
	}
	c.services = append(c.services,
		&serviceState{name, service, make(chan bool, 1), make(chan bool, 1), make(chan context.Context, 1)})
}

// Start runs each service in turn, waiting for readiness before moving
// on. The returned channel closes when every service has stopped.
func (c *Conductor) Start() chan bool {
	c.started = true

SRV_LOOP:
	for _, srv := range c.services {
		c.logf("starting %q\n", srv.name)
		err := srv.service.Run(srv.ready, srv.stopped, srv.shutdown)
		if err != nil {
			c.logf("%q exited with: %v\n", srv.name, err)
			c.Stop()
			break
		}
		select {
		case <-time.After(startupTimeout):
			c.logf("%q timed out during startup\n", srv.name)
			c.Stop()
			break SRV_LOOP
		case <-srv.ready:
			c.logf("%q up\n", srv.name)
			continue
		}
	}
	return c.shutdown
}

// Stop asks every service to shut down and waits, bounded by
// shutdownTimeout, before closing the shutdown channel.
func (c *Conductor) Stop() {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()

	wg := sync.WaitGroup{}
	wg.Add(len(c.services))

	done := make(chan bool)
	go func() {
		wg.Wait()
		done <- true
	}()

	for _, state := range c.services {
		fmt.Println("requesting shutdown:", state.name)
		state.shutdown <- ctx
		go func(s *serviceState) {
			<-s.stopped
			fmt.Println("shutdown complete:", s.name)
			wg.Done()
		}(state)
	}

	select {
	case <-done:
		fmt.Println("all services stopped")
	case <-time.After(shutdownTimeout + time.Second):
		fmt.Println("timed out waiting for services to stop")
	}
	close(c.shutdown)
}

func (c *Conductor) logf(s string, v ...interface{}) {
	if c.noisy {
		fmt.Printf(s, v...)
	}
}
