package obscura

import (
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// L1 represents access to the Obscura ledger via a node.
//
// The ledger is append-only and authoritative: blocks arrive in height
// order and are never reorganised out from under us.
type L1 interface {
	// GetBlockCount returns the number of blocks in the ledger; the tip
	// has height GetBlockCount()-1.
	GetBlockCount() (int64, error)
	GetBlock(height int64) (Block, error)
	SubmitTx(proposal TxProposal) error
}

// Block is the wallet-relevant view of one ledger block: the outputs it
// added and the key images it consumed.
type Block struct {
	Height    int64       `json:"height"`
	TxOuts    []obx.TxOut `json:"tx_outs"`
	KeyImages [][]byte    `json:"key_images"`
}

type NodeEventType int

const (
	TipChange NodeEventType = iota
)

// NodeEvent is a notification from the node emitter (e.g. ZMQ):
// the ledger tip has moved.
type NodeEvent struct {
	Type   NodeEventType
	Height int64
}

// NodeEmitter is implemented by node listeners that surface NodeEvents.
type NodeEmitter interface {
	Subscribe(chan<- NodeEvent)
}
