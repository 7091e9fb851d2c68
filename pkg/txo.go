package obscura

import (
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// TxoStatus is the per-account observable state of one output.
// Closed set: unrecognized values are rejected at the store boundary.
type TxoStatus string

const (
	TxoStatusUnspent  TxoStatus = "unspent"
	TxoStatusPending  TxoStatus = "pending"
	TxoStatusSpent    TxoStatus = "spent"
	TxoStatusSecreted TxoStatus = "secreted"
	TxoStatusOrphaned TxoStatus = "orphaned"
)

func ParseTxoStatus(s string) (TxoStatus, error) {
	switch TxoStatus(s) {
	case TxoStatusUnspent, TxoStatusPending, TxoStatusSpent, TxoStatusSecreted, TxoStatusOrphaned:
		return TxoStatus(s), nil
	}
	return "", NewErr(InvariantViolation, "unrecognized txo_status: %q", s)
}

// TxoType records how an account came to know an output: received from
// the ledger, or minted by this wallet. Immutable after row creation.
type TxoType string

const (
	TxoTypeReceived TxoType = "received"
	TxoTypeMinted   TxoType = "minted"
)

func ParseTxoType(s string) (TxoType, error) {
	switch TxoType(s) {
	case TxoTypeReceived, TxoTypeMinted:
		return TxoType(s), nil
	}
	return "", NewErr(InvariantViolation, "unrecognized txo_type: %q", s)
}

// Txo is one distinct ledger output known to the wallet. There is one
// row per output, not per account; AccountTxoStatus joins accounts to it.
type Txo struct {
	TxoID      string // content-addressed identity (hex digest)
	Value      int64  // picocoin; nonnegative, signed to match store arithmetic
	TargetKey  []byte
	PublicKey  []byte
	EFogHint   []byte
	TxOutBytes []byte // full serialized output, opaque

	SubaddressIndex             *int64 // nil means orphaned: owning subaddress not yet known
	KeyImage                    []byte // nil until the owning account can compute it
	ReceivedBlockHeight         *int64
	PendingTombstoneBlockHeight *int64 // minted outputs only, until confirmed landed
	SpentBlockHeight            *int64
	Proof                       []byte // sender-retained confirmation number, when minted as a destination
}

// TxOut decodes the serialized output this Txo was created from.
func (t Txo) TxOut() (obx.TxOut, error) {
	return obx.TxOutFromBytes(t.TxOutBytes)
}

// AccountTxoStatus is the (account, output) join row: the authoritative
// state machine for that account's view of the output.
type AccountTxoStatus struct {
	AccountID string
	TxoID     string
	TxoStatus TxoStatus
	TxoType   TxoType
}

// TxoEvent is an input to the Txo state machine.
type TxoEvent string

const (
	// Receipt details observed in the ledger (also un-orphaning and a
	// minted output coming back as change).
	TxoEventReceived TxoEvent = "received"
	// Chosen as an input for an outgoing transaction.
	TxoEventSelected TxoEvent = "selected"
	// Key image observed spent in the ledger.
	TxoEventSpent TxoEvent = "spent"
	// Tombstone height exceeded before the spend landed.
	TxoEventExpired TxoEvent = "expired"
)

// NextTxoStatus is the transition table for (status, type) pairs. Any
// transition not listed here is a logic error: callers must treat the
// returned invariant-violation error as fatal to the enclosing store
// transaction, never apply the transition anyway.
//
// Spent is terminal, including for minted rows observed again during
// sync: a replayed receipt must not resurrect a spent output.
func NextTxoStatus(current TxoStatus, txoType TxoType, event TxoEvent) (TxoStatus, error) {
	switch event {
	case TxoEventReceived:
		switch current {
		case TxoStatusOrphaned, TxoStatusSecreted, TxoStatusUnspent:
			return TxoStatusUnspent, nil
		case TxoStatusPending:
			// A minted output received back before its spend resolved.
			if txoType == TxoTypeMinted {
				return TxoStatusUnspent, nil
			}
		}
	case TxoEventSelected:
		if current == TxoStatusUnspent {
			return TxoStatusPending, nil
		}
	case TxoEventSpent:
		switch current {
		case TxoStatusUnspent, TxoStatusPending, TxoStatusSpent:
			return TxoStatusSpent, nil
		}
	case TxoEventExpired:
		if current == TxoStatusPending {
			return TxoStatusUnspent, nil
		}
	}
	return "", NewErr(InvariantViolation,
		"invalid txo transition: %s/%s on event %s", current, txoType, event)
}
