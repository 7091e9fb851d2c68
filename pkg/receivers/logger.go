package receivers

import (
	"context"
	"fmt"
	"log"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/conductor"
	"gopkg.in/natefinch/lumberjack.v2"
)

type MessageLogger struct {
	// MessageLogger receives obscura.Message via Rec
	Rec chan obscura.Message
	// and logs them via Log
	Log *log.Logger
}

// Implements obscura.MessageSubscriber
func (l MessageLogger) GetChan() chan obscura.Message {
	return l.Rec
}

// Implements conductor.Service
func (l MessageLogger) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		for {
			select {
			// handle stopping the service
			case <-stop:
				close(l.Rec)
				close(stopped)
				return
			case msg := <-l.Rec:
				l.Log.Printf("%s:%s (%s): %s\n",
					msg.EventType.Type(),
					msg.EventType,
					msg.ID,
					msg.Message)
			}
		}
	}()
	return nil
}

func NewMessageLogger(path string) MessageLogger {
	// create a MessageLogger
	l := MessageLogger{
		make(chan obscura.Message, 1000),
		log.New(&lumberjack.Logger{
			Filename: path,
			Compress: true,
		}, "", log.Ltime|log.Lmicroseconds),
	}
	return l
}

// Reads config and sets up any configured loggers
func SetupLoggers(cond *conductor.Conductor, bus obscura.MessageBus, conf obscura.Config) {
	for name, c := range conf.Loggers {
		l := NewMessageLogger(c.Path)
		cond.Service(fmt.Sprintf("Logger %s", c.Path), l)

		bus.Register(l, matchEventTypes(name, c.Types)...)
	}
}

// matchEventTypes resolves config strings against the known event
// categories, warning about anything unrecognized.
func matchEventTypes(name string, wanted []string) []obscura.EventType {
	types := []obscura.EventType{}
	for _, t := range wanted {
		match := false
		for _, x := range obscura.EVENT_TYPES {
			if t == x.Type() {
				match = true
				types = append(types, x)
			}
		}
		if !match {
			fmt.Printf("⚠️  %s: ignoring invalid message type: %s\n", name, t)
		}
	}
	return types
}
