package obscura

/*
The message subsystem exists to allow event-based access to wallet
activity (sync progress, Txo lifecycle changes) for integration
purposes.

A simple internal 'message bus' is passed around internally as a
singleton, with an internal goroutine and a 'send' method for sending
'messages'.

Outbound destinations are created in config, which result in these
messages being routed to external sinks, ie: log-files, HTTP callbacks,
etc. These are managed by MessageSubscribers: registered with the bus
along with the list of EventTypes they want to subscribe to.
*/

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
)

// MessageSubscribers are things that subscribe to the bus and handle
// messages, ie: log files, http callbacks etc.
type MessageSubscriber interface {
	GetChan() chan Message
}

// Created by the bus, wraps message sent with Send
type Message struct {
	EventType EventType
	Message   []byte
	ID        string // optional
}

type Subscription struct {
	dest  MessageSubscriber
	types []EventType
}

func NewMessageBus() MessageBus {
	return MessageBus{
		receivers: make(map[*Subscription]bool),
		inbound:   make(chan Message, 1),
	}
}

type MessageBus struct {
	// Registered MessageSubscribers.
	receivers map[*Subscription]bool

	// Messages from Send(), destined for MessageSubscribers
	inbound chan Message
}

// Send a message to the bus with a specific EventType.
// msg can be anything JSON serialisable; this will be turned into a
// Message and delivered to any interested MessageSubscribers.
func (b MessageBus) Send(t EventType, msg interface{}, msgID ...string) error {
	j, err := json.Marshal(msg)
	if err != nil {
		return err
	}
	if len(msgID) == 0 {
		b.inbound <- Message{t, j, generateID()}
	} else {
		b.inbound <- Message{t, j, msgID[0]}
	}
	return nil
}

func (b MessageBus) Register(m MessageSubscriber, types ...EventType) {
	sub := Subscription{m, types}
	b.receivers[&sub] = true
}

func (b MessageBus) Unregister(sub *Subscription) {
	delete(b.receivers, sub)
	close((*sub).dest.GetChan())
}

func (b MessageBus) wants(sub *Subscription, m Message) bool {
	for _, t := range (*sub).types {
		if t.Type() == "ALL" || t.Type() == m.EventType.Type() {
			return true
		}
	}
	return false
}

// Implements conductor.Service
func (b MessageBus) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		stopBus := make(chan bool)
		go func() {
			for {
				select {
				case <-stopBus:
					return
				case message := <-b.inbound:
					for sub := range b.receivers {
						if !b.wants(sub, message) {
							continue
						}
						select {
						case (*sub).dest.GetChan() <- message:
						default:
							// if we are unable to send, cancel the sub
							b.Send(SYS_ERR, struct{ msg string }{msg: "receiver failed to handle msg, closing"})
							b.Unregister(sub)
						}
					}
				}
			}
		}()

		started <- true
		// wait for shutdown.
		<-stop
		// do some shutdown stuff then signal we're done
		close(stopBus)
		stopped <- true
	}()
	return nil
}

// create a short random ID for msgs that have none
func generateID() string {
	bytes := make([]byte, 4)
	rand.Read(bytes)
	return hex.EncodeToString(bytes)[:8]
}
