package obscura

import (
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// ChainState is the sync driver's restart point: the effects of every
// block below NextBlockHeight are reflected in the store.
type ChainState struct {
	NextBlockHeight int64
}

// TxoWithStatus pairs an output row with one account's status row for it.
type TxoWithStatus struct {
	Txo    Txo
	Status AccountTxoStatus
}

// Store is the transactional wallet store. Reads that need no
// multi-statement atomicity can go through the Store directly; every
// write path must run inside a StoreTransaction.
type Store interface {
	// Begin starts a transaction with at-least-serializable isolation.
	Begin() (StoreTransaction, error)

	GetAccount(accountID string) (Account, error)
	ListAccounts() ([]Account, error)
	GetChainState() (ChainState, error)

	// Defer until shutdown.
	Close()
}

// StoreTransaction brackets exactly one atomic unit of work. Rollback
// after Commit is a no-op, so `defer tx.Rollback()` is safe on every
// exit path. The store is the only writer of the txo and
// account_txo_status tables.
type StoreTransaction interface {
	Commit() error
	Rollback() error

	// Accounts.
	CreateAccount(acc Account) error
	GetAccount(accountID string) (Account, error)
	ListAccounts() ([]Account, error)
	UpdateAccount(acc Account) error

	// CreateReceivedTxo records an output observed in the ledger for one
	// account. Idempotent per (output, account): an existing status row
	// folds into UpdateReceivedTxo; an output known to another account
	// gains a status row only; a wholly new output inserts both rows.
	// A nil subaddressIndex creates the row orphaned.
	CreateReceivedTxo(txOut obx.TxOut, subaddressIndex *int64, keyImage []byte,
		value uint64, receivedBlockHeight int64, accountID string) (string, error)

	// CreateMintedTxo records an output produced by one of our own
	// transaction proposals. Returns the recipient address when the
	// output is an outlay destination (nil for change), the TxoID, the
	// proposal's total outlay value, and whether the output is an outlay
	// or change.
	CreateMintedTxo(accountID *string, txOut obx.TxOut, proposal TxProposal,
		outputIndex int) (*obx.PublicAddress, string, int64, TxoKind, error)

	// UpdateReceivedTxo refreshes receipt details for an output this
	// account already has a status row for. Provenance decides the
	// status effect: minted rows force unspent (unless spent, which is
	// terminal); received rows only gain a newly-known subaddress; a
	// previously orphaned row is always promoted to unspent.
	UpdateReceivedTxo(accountID string, txoID string, subaddressIndex *int64,
		keyImage []byte, receivedBlockHeight int64) error

	// UpdateTxoToSpendable populates the spendability fields. Fails with
	// MissingSpendabilityData before any write if either is absent.
	UpdateTxoToSpendable(txoID string, subaddressIndex *int64, keyImage []byte,
		blockHeight int64) error

	// UpdateTxoToPending flips the account's status row for a selected
	// input to pending and stamps the tombstone height the spend must
	// land by. Other accounts sharing the output keep their own status.
	// No row for the account is a not-found error.
	UpdateTxoToPending(accountID string, txoID string, tombstoneBlockHeight int64) error

	// MarkSpentKeyImages marks every matching (unspent or pending) Txo of
	// the account spent at the given height. Returns the TxoIDs marked.
	MarkSpentKeyImages(accountID string, keyImages [][]byte, blockHeight int64) ([]string, error)

	// MarkExpiredTxosUnspent returns pending Txos whose tombstone height
	// passed without a spend to unspent, so selection can retry them.
	MarkExpiredTxosUnspent(accountID string, blockHeight int64) (int64, error)

	// Queries (read-only joins).
	ListTxosForAccount(accountID string) ([]TxoWithStatus, error)
	ListTxosByStatus(accountID string) (map[TxoStatus][]Txo, error)
	// GetTxo also resolves the assigned subaddress (B58) for a spendable
	// Txo. Distinguishes TxoForAnotherAccount from NotFound.
	GetTxo(accountID string, txoID string) (Txo, AccountTxoStatus, *string, error)
	SelectTxosByID(txoIDs []string) ([]TxoWithStatus, error)
	AreAllTxosSpent(txoIDs []string) (bool, error)
	// AnyTxosFailed reports whether any of the Txos missed their
	// tombstone height before landing (still secreted, unspent or
	// pending past the tombstone).
	AnyTxosFailed(txoIDs []string, blockHeight int64) (bool, error)
	// GetSpendableTxos lists unspent Txos with both subaddress and key
	// image set, value <= maxSpendableValue, ordered by value descending.
	// maxSpendableValue <= 0 means no cap.
	GetSpendableTxos(accountID string, maxSpendableValue int64) ([]Txo, error)

	// Chainstate checkpoint for the sync driver.
	GetChainState() (ChainState, error)
	UpdateChainState(state ChainState) error

	// Gift codes.
	CreateGiftCode(gc GiftCode) error
	GetGiftCode(code string) (GiftCode, error)
	ListGiftCodes() ([]GiftCode, error)
}
