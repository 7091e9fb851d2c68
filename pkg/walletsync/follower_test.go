package walletsync

import (
	"testing"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/node"
	"github.com/obscuranet/obscurawallet/pkg/obx"
	"github.com/obscuranet/obscurawallet/pkg/store"
)

type syncFixture struct {
	ws  *WalletSync
	l1  *node.MockL1
	s   obscura.Store
	key obx.AccountKey
	acc obscura.Account
}

func newSyncFixture(t *testing.T) *syncFixture {
	s, err := store.NewSQLStore(":memory:")
	if err != nil {
		t.Fatal("Couldn't open sqlite DB", err)
	}
	t.Cleanup(s.Close)

	l1 := node.NewMockL1()
	ws, err := NewWalletSync(obscura.Config{}, l1, s, obscura.NewMessageBus())
	if err != nil {
		t.Fatal("NewWalletSync", err)
	}

	entropy := make([]byte, obx.KeyLen)
	entropy[0] = 42
	key, err := obx.NewAccountKeyFromEntropy(entropy)
	if err != nil {
		t.Fatal("NewAccountKeyFromEntropy", err)
	}
	acc := obscura.NewAccount(key, "sync-test", 0)

	tx, err := s.Begin()
	if err != nil {
		t.Fatal("Begin", err)
	}
	defer tx.Rollback()
	if err := tx.CreateAccount(acc); err != nil {
		t.Fatal("CreateAccount", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal("Commit", err)
	}
	return &syncFixture{ws: ws, l1: l1, s: s, key: key, acc: acc}
}

// syncBatch drives one batch through the sync driver's transaction body,
// committing on success. Returns the events the driver would announce.
func (f *syncFixture) syncBatch(t *testing.T, from, to, tip int64) []txoEvent {
	tx, err := f.s.Begin()
	if err != nil {
		t.Fatal("Begin", err)
	}
	defer tx.Rollback()
	events, err := f.ws.processBatchTxn(tx, from, to, tip)
	if err != nil {
		t.Fatal("processBatchTxn", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal("Commit", err)
	}
	return events
}

func (f *syncFixture) payOut(t *testing.T, index uint64, value uint64) obx.TxOut {
	txOut, _, err := obx.NewTxOut(value, f.key.Subaddress(index))
	if err != nil {
		t.Fatal("NewTxOut", err)
	}
	return txOut
}

func hasEvent(events []txoEvent, want obscura.EventType) bool {
	for _, e := range events {
		if e.event == want {
			return true
		}
	}
	return false
}

func TestSyncReceivesOutputs(t *testing.T) {
	f := newSyncFixture(t)

	stranger, err := obx.RandomAccountKey()
	if err != nil {
		t.Fatal("RandomAccountKey", err)
	}
	strangerOut, _, err := obx.NewTxOut(555, stranger.Subaddress(0))
	if err != nil {
		t.Fatal("NewTxOut", err)
	}
	f.l1.AddBlock([]obx.TxOut{f.payOut(t, 0, 1000), strangerOut}, nil)

	events := f.syncBatch(t, 0, 1, 1)
	if !hasEvent(events, obscura.TXO_RECEIVED) {
		t.Fatal("expected a receive event")
	}
	if !hasEvent(events, obscura.ACC_SYNCED) {
		t.Fatal("expected an account sync event")
	}

	tx, _ := f.s.Begin()
	defer tx.Rollback()
	byStatus, err := tx.ListTxosByStatus(f.acc.AccountID)
	if err != nil {
		t.Fatal("ListTxosByStatus", err)
	}
	unspent := byStatus[obscura.TxoStatusUnspent]
	if len(unspent) != 1 || unspent[0].Value != 1000 {
		t.Fatalf("expected one unspent txo of 1000, got %v", unspent)
	}
	tx.Commit()

	// the stranger's output must not appear at all
	all, err := f.s.GetChainState()
	if err != nil {
		t.Fatal("GetChainState", err)
	}
	if all.NextBlockHeight != 1 {
		t.Fatalf("chainstate checkpoint: got %d, want 1", all.NextBlockHeight)
	}
	acc, err := f.s.GetAccount(f.acc.AccountID)
	if err != nil {
		t.Fatal("GetAccount", err)
	}
	if acc.NextBlock != 1 {
		t.Fatalf("account checkpoint: got %d, want 1", acc.NextBlock)
	}
}

func TestSyncOrphanRescue(t *testing.T) {
	f := newSyncFixture(t)

	// pays subaddress 5, which is not assigned yet
	f.l1.AddBlock([]obx.TxOut{f.payOut(t, 5, 700)}, nil)
	events := f.syncBatch(t, 0, 1, 1)
	if !hasEvent(events, obscura.TXO_ORPHANED) {
		t.Fatal("expected an orphan event")
	}

	tx, _ := f.s.Begin()
	defer tx.Rollback()
	byStatus, err := tx.ListTxosByStatus(f.acc.AccountID)
	if err != nil {
		t.Fatal("ListTxosByStatus", err)
	}
	if len(byStatus[obscura.TxoStatusOrphaned]) != 1 {
		t.Fatal("output paying an unassigned subaddress must land orphaned")
	}

	// assign subaddresses up to 5, then let the next batch re-scan
	acc, err := tx.GetAccount(f.acc.AccountID)
	if err != nil {
		t.Fatal("GetAccount", err)
	}
	acc.NextSubaddressIndex = 6
	if err := tx.UpdateAccount(acc); err != nil {
		t.Fatal("UpdateAccount", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal("Commit", err)
	}

	f.l1.AddBlock(nil, nil)
	events = f.syncBatch(t, 1, 2, 2)
	if !hasEvent(events, obscura.TXO_RECEIVED) {
		t.Fatal("expected the rescued orphan to announce a receive")
	}

	tx, _ = f.s.Begin()
	defer tx.Rollback()
	byStatus, err = tx.ListTxosByStatus(f.acc.AccountID)
	if err != nil {
		t.Fatal("ListTxosByStatus", err)
	}
	if len(byStatus[obscura.TxoStatusOrphaned]) != 0 {
		t.Fatal("orphan must be rescued once its subaddress is assigned")
	}
	rescued := byStatus[obscura.TxoStatusUnspent]
	if len(rescued) != 1 || rescued[0].KeyImage == nil {
		t.Fatal("rescued orphan must be spendable")
	}
	tx.Commit()
}

func TestSyncObservesSpends(t *testing.T) {
	f := newSyncFixture(t)

	txOut := f.payOut(t, 0, 2000)
	f.l1.AddBlock([]obx.TxOut{txOut}, nil)
	f.syncBatch(t, 0, 1, 1)

	// the key image appearing on the ledger marks our output spent
	keyImage := f.key.KeyImage(0, txOut.PublicKey)
	f.l1.AddBlock(nil, [][]byte{keyImage})
	events := f.syncBatch(t, 1, 2, 2)
	if !hasEvent(events, obscura.TXO_SPENT) {
		t.Fatal("expected a spend event")
	}

	tx, _ := f.s.Begin()
	defer tx.Rollback()
	byStatus, err := tx.ListTxosByStatus(f.acc.AccountID)
	if err != nil {
		t.Fatal("ListTxosByStatus", err)
	}
	if len(byStatus[obscura.TxoStatusSpent]) != 1 {
		t.Fatal("spend must be recorded")
	}
	if len(byStatus[obscura.TxoStatusUnspent]) != 0 {
		t.Fatal("spent output must leave the unspent set")
	}
	tx.Commit()
}

func TestSyncExpiresTombstonedPending(t *testing.T) {
	f := newSyncFixture(t)

	f.l1.AddBlock([]obx.TxOut{f.payOut(t, 0, 3000)}, nil)
	f.syncBatch(t, 0, 1, 1)

	tx, _ := f.s.Begin()
	defer tx.Rollback()
	byStatus, err := tx.ListTxosByStatus(f.acc.AccountID)
	if err != nil {
		t.Fatal("ListTxosByStatus", err)
	}
	txoID := byStatus[obscura.TxoStatusUnspent][0].TxoID
	if err := tx.UpdateTxoToPending(f.acc.AccountID, txoID, 3); err != nil {
		t.Fatal("UpdateTxoToPending", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal("Commit", err)
	}

	// empty blocks pass the tombstone height without the spend landing
	f.l1.AddBlock(nil, nil)
	f.l1.AddBlock(nil, nil)
	f.l1.AddBlock(nil, nil)
	f.l1.AddBlock(nil, nil)
	events := f.syncBatch(t, 1, 5, 5)
	if !hasEvent(events, obscura.TXO_EXPIRED) {
		t.Fatal("expected an expiry event")
	}

	tx, _ = f.s.Begin()
	defer tx.Rollback()
	byStatus, err = tx.ListTxosByStatus(f.acc.AccountID)
	if err != nil {
		t.Fatal("ListTxosByStatus", err)
	}
	if len(byStatus[obscura.TxoStatusPending]) != 0 {
		t.Fatal("expired pending must be released")
	}
	if len(byStatus[obscura.TxoStatusUnspent]) != 1 {
		t.Fatal("expired pending must be spendable again")
	}
	tx.Commit()
}

func TestSyncRoundTripSpend(t *testing.T) {
	f := newSyncFixture(t)

	recipient, err := obx.RandomAccountKey()
	if err != nil {
		t.Fatal("RandomAccountKey", err)
	}

	f.l1.AddBlock([]obx.TxOut{f.payOut(t, 0, 5000)}, nil)
	f.syncBatch(t, 0, 1, 1)

	// build and submit a payment, the mock node mines it immediately
	tx, _ := f.s.Begin()
	defer tx.Rollback()
	acc, err := tx.GetAccount(f.acc.AccountID)
	if err != nil {
		t.Fatal("GetAccount", err)
	}
	outlays := []obscura.Outlay{{Value: 1500, Receiver: recipient.Subaddress(0)}}
	proposal, err := obscura.BuildTxProposal(tx, acc, outlays, 100, 10, 0)
	if err != nil {
		t.Fatal("BuildTxProposal", err)
	}
	if err := f.l1.SubmitTx(proposal); err != nil {
		t.Fatal("SubmitTx", err)
	}
	if _, err := obscura.LogSubmittedProposal(tx, proposal); err != nil {
		t.Fatal("LogSubmittedProposal", err)
	}
	if err := tx.Commit(); err != nil {
		t.Fatal("Commit", err)
	}

	// syncing the mined block observes our own spend and the change
	events := f.syncBatch(t, 1, 2, 2)
	if !hasEvent(events, obscura.TXO_SPENT) {
		t.Fatal("expected our input's spend to be observed")
	}
	if !hasEvent(events, obscura.TXO_RECEIVED) {
		t.Fatal("expected the change output to come back")
	}

	tx, _ = f.s.Begin()
	defer tx.Rollback()
	byStatus, err := tx.ListTxosByStatus(f.acc.AccountID)
	if err != nil {
		t.Fatal("ListTxosByStatus", err)
	}
	if len(byStatus[obscura.TxoStatusSpent]) != 1 {
		t.Fatal("the input must be spent")
	}
	change := byStatus[obscura.TxoStatusUnspent]
	if len(change) != 1 || change[0].Value != 3400 {
		t.Fatalf("expected change of 3400 unspent, got %v", change)
	}
	if len(byStatus[obscura.TxoStatusPending]) != 0 {
		t.Fatal("no inputs may remain pending after the spend lands")
	}
	tx.Commit()
}
