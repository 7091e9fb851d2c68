package walletsync

import (
	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/conductor"
)

func StartWalletSync(c *conductor.Conductor, conf obscura.Config, l1 obscura.L1, store obscura.Store, bus obscura.MessageBus) (*TipChaser, error) {
	// Start the TipChaser service
	tc, err := NewTipChaser(conf, l1)
	if err != nil {
		return nil, err
	}
	c.Service("TipChaser", tc)

	// Start the WalletSync service
	ws, err := NewWalletSync(conf, l1, store, bus)
	if err != nil {
		return nil, err
	}
	tc.Subscribe(ws.ReceiveTip, false) // non-blocking.
	c.Service("WalletSync", ws)

	return tc, nil
}
