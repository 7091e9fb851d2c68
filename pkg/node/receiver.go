package node

import (
	"context"
	"encoding/binary"
	"fmt"
	"syscall"
	"time"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/pebbe/zmq4"
)

// interface guard ensures ZMQReceiver implements obscura.NodeEmitter
var _ obscura.NodeEmitter = &ZMQReceiver{}

// ZMQReceiver receives tip notifications from an obscura node over ZMQ.
// CAUTION: the protocol is not authenticated! Subscribers must treat
// notifications as hints only and re-read the chain over RPC.
type ZMQReceiver struct {
	bus         obscura.MessageBus
	sock        *zmq4.Socket
	listeners   []chan<- obscura.NodeEvent
	nodeAddress string
}

func (z *ZMQReceiver) Subscribe(ch chan<- obscura.NodeEvent) {
	z.listeners = append(z.listeners, ch)
}

func NewZMQReceiver(bus obscura.MessageBus, config obscura.Config) (*ZMQReceiver, error) {
	node, ok := config.Node[config.Obscurawallet.Node]
	if !ok {
		return nil, fmt.Errorf("no node config named %q", config.Obscurawallet.Node)
	}
	return &ZMQReceiver{
		bus:         bus,
		listeners:   make([]chan<- obscura.NodeEvent, 0, 10),
		nodeAddress: fmt.Sprintf("tcp://%s:%d", node.ZMQHost, node.ZMQPort),
	}, nil
}

func (z *ZMQReceiver) Run(started, stopped chan bool, stop chan context.Context) error {
	sock, err := zmq4.NewSocket(zmq4.SUB)
	if err != nil {
		return err
	}
	sock.SetRcvtimeo(2 * time.Second)
	z.sock = sock
	z.bus.Send(obscura.SYS_STARTUP, fmt.Sprintf("ZMQ: connecting to: %s", z.nodeAddress))
	err = sock.Connect(z.nodeAddress)
	if err != nil {
		return err
	}
	err = sock.SetSubscribe("newblock")
	if err != nil {
		return err
	}
	go func() {
		started <- true

		for {
			// Handle shutdown
			select {
			case <-stop:
				sock.Close()
				close(stopped)
				return
			default:
				// fall through to zmq recv
			}

			msg, err := z.sock.RecvMessageBytes(0)
			if err != nil {
				switch err := err.(type) {
				case zmq4.Errno:
					if err == zmq4.Errno(syscall.ETIMEDOUT) {
						continue
					} else if err == zmq4.Errno(syscall.EAGAIN) {
						continue
					} else {
						z.bus.Send(obscura.SYS_ERR, fmt.Sprintf("ZMQ err: %s", err))
						continue
					}
				default:
					z.bus.Send(obscura.SYS_ERR, fmt.Sprintf("ZMQ recv: %v", err))
					continue
				}
			}
			tag := string(msg[0])
			switch tag {
			case "newblock":
				// payload is the new tip height, 8 bytes little-endian
				if len(msg) < 2 || len(msg[1]) < 8 {
					z.bus.Send(obscura.SYS_ERR, "ZMQ: malformed newblock payload")
					continue
				}
				height := int64(binary.LittleEndian.Uint64(msg[1]))
				z.notify(obscura.TipChange, height)
			default:
				z.bus.Send(obscura.SYS_ERR, fmt.Sprintf("ZMQ: unexpected topic %q", tag))
			}
		}
	}()
	return nil
}

func (z *ZMQReceiver) notify(tag obscura.NodeEventType, height int64) {
	e := obscura.NodeEvent{Type: tag, Height: height}
	for _, ch := range z.listeners {
		ch <- e
	}
}
