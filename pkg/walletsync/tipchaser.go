package walletsync

import (
	"context"
	"log"
	"time"

	obscura "github.com/obscuranet/obscurawallet/pkg"
)

const (
	expectedBlockInterval = 90 * time.Second
)

type TipSubscription struct {
	channel  chan<- int64
	blocking bool
}

/*
 * TipChaser tracks the current tip height of the ledger.
 * It notifies listeners each time the tip moves.
 * It receives NodeEvent (TipChange) from the ZMQ listener.
 * If it doesn't receive ZMQ notifications for a while, it will poll the
 * node instead.
 */
type TipChaser struct {
	l1              obscura.L1
	ReceiveFromNode chan obscura.NodeEvent
	listeners       []TipSubscription
}

func NewTipChaser(conf obscura.Config, l1 obscura.L1) (*TipChaser, error) {
	result := &TipChaser{
		l1:              l1,
		ReceiveFromNode: make(chan obscura.NodeEvent, 1000),
	}
	return result, nil
}

func (c *TipChaser) Subscribe(ch chan<- int64, blocking bool) {
	c.listeners = append(c.listeners, TipSubscription{ch, blocking})
}

func (c *TipChaser) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		started <- true
		var lastHeight int64 = -1
		for {
			select {
			case <-stop:
				stopped <- true
				return
			case e := <-c.ReceiveFromNode:
				switch e.Type {
				case obscura.TipChange:
					if e.Height != lastHeight {
						lastHeight = e.Height
						c.sendEvent(e.Height)
					}
				}
			case <-time.After(expectedBlockInterval):
				log.Println("TipChaser: falling back to getblockcount")
				count, err := c.l1.GetBlockCount()
				if err != nil {
					log.Println("TipChaser: node RPC request failed: getblockcount")
				} else if count > 0 && count-1 != lastHeight {
					lastHeight = count - 1
					c.sendEvent(lastHeight)
				}
			}
		}
	}()

	return nil
}

func (c *TipChaser) sendEvent(height int64) {
	log.Println("TipChaser: discovered new tip height:", height)
	for _, ch := range c.listeners {
		if ch.blocking {
			ch.channel <- height
		} else {
			// non-blocking send.
			select {
			case ch.channel <- height:
			default:
			}
		}
	}
}
