package store_test

import (
	"bytes"
	"testing"

	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/obx"
	"github.com/obscuranet/obscurawallet/pkg/store"
)

func testEntropy(fill byte) []byte {
	e := make([]byte, obx.KeyLen)
	for i := range e {
		e[i] = fill
	}
	return e
}

func mustKey(t *testing.T, fill byte) obx.AccountKey {
	key, err := obx.NewAccountKeyFromEntropy(testEntropy(fill))
	if err != nil {
		t.Fatal("NewAccountKeyFromEntropy", err)
	}
	return key
}

// payAccount builds an output paying the account and scans it back, so
// the receive has a real subaddress index and key image.
func payAccount(t *testing.T, key obx.AccountKey, index uint64, value uint64) (obx.TxOut, *obx.ScanResult) {
	txOut, _, err := obx.NewTxOut(value, key.Subaddress(index))
	if err != nil {
		t.Fatal("NewTxOut", err)
	}
	res, err := key.ScanTxOut(txOut, []uint64{0, 1, 2})
	if err != nil {
		t.Fatal("ScanTxOut", err)
	}
	if res == nil {
		t.Fatal("scan must match our own output")
	}
	return txOut, res
}

func begin(t *testing.T, s obscura.Store) obscura.StoreTransaction {
	tx, err := s.Begin()
	if err != nil {
		t.Fatal("Begin", err)
	}
	return tx
}

func commit(t *testing.T, tx obscura.StoreTransaction) {
	if err := tx.Commit(); err != nil {
		t.Fatal("Commit", err)
	}
}

func TestSQLStore(t *testing.T) {
	s, err := store.NewSQLStore(":memory:")
	if err != nil {
		t.Fatal("Couldn't open sqlite DB", err)
	}
	defer s.Close()

	key1 := mustKey(t, 1)
	key2 := mustKey(t, 2)
	acc1 := obscura.NewAccount(key1, "one", 0)
	acc2 := obscura.NewAccount(key2, "two", 0)

	t.Run("Accounts", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		if err := tx.CreateAccount(acc1); err != nil {
			t.Fatal("CreateAccount", err)
		}
		if err := tx.CreateAccount(acc2); err != nil {
			t.Fatal("CreateAccount", err)
		}
		if err := tx.CreateAccount(acc1); !obscura.IsAlreadyExistsError(err) {
			t.Fatal("duplicate create must report already-exists, got", err)
		}
		commit(t, tx)

		got, err := s.GetAccount(acc1.AccountID)
		if err != nil {
			t.Fatal("GetAccount", err)
		}
		if got.Name != "one" || !bytes.Equal(got.AccountKeyBytes, acc1.AccountKeyBytes) {
			t.Fatal("account round trip lost data")
		}
		if _, err := s.GetAccount("no-such-account"); !obscura.IsNotFoundError(err) {
			t.Fatal("missing account must report not-found, got", err)
		}
		accounts, err := s.ListAccounts()
		if err != nil {
			t.Fatal("ListAccounts", err)
		}
		if len(accounts) != 2 {
			t.Fatalf("expected 2 accounts, got %d", len(accounts))
		}

		tx = begin(t, s)
		defer tx.Rollback()
		got.NextSubaddressIndex = 3
		if err := tx.UpdateAccount(got); err != nil {
			t.Fatal("UpdateAccount", err)
		}
		commit(t, tx)
	})

	var seededIDs []string
	var seeded []*obx.ScanResult
	var seededOuts []obx.TxOut

	t.Run("CreateReceivedTxo", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		for i, value := range []uint64{100, 200, 300} {
			txOut, res := payAccount(t, key1, 0, value)
			txoID, err := tx.CreateReceivedTxo(txOut, res.SubaddressIndex, res.KeyImage, res.Value, int64(10+i), acc1.AccountID)
			if err != nil {
				t.Fatal("CreateReceivedTxo", err)
			}
			seededIDs = append(seededIDs, txoID)
			seeded = append(seeded, res)
			seededOuts = append(seededOuts, txOut)
		}
		commit(t, tx)

		tx = begin(t, s)
		defer tx.Rollback()
		txo, status, address, err := tx.GetTxo(acc1.AccountID, seededIDs[0])
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusUnspent || status.TxoType != obscura.TxoTypeReceived {
			t.Fatalf("new receive must be unspent/received, got %s/%s", status.TxoStatus, status.TxoType)
		}
		if txo.Value != 100 {
			t.Fatalf("value: got %d, want 100", txo.Value)
		}
		if address == nil || *address != key1.Subaddress(0).B58() {
			t.Fatal("assigned address must resolve to the paying subaddress")
		}
		commit(t, tx)
	})

	t.Run("ReceiveIsIdempotent", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		txoID, err := tx.CreateReceivedTxo(seededOuts[0], seeded[0].SubaddressIndex, seeded[0].KeyImage, seeded[0].Value, 10, acc1.AccountID)
		if err != nil {
			t.Fatal("re-receive must not fail:", err)
		}
		if txoID != seededIDs[0] {
			t.Fatal("identity must be stable across re-receives")
		}
		rows, err := tx.ListTxosForAccount(acc1.AccountID)
		if err != nil {
			t.Fatal("ListTxosForAccount", err)
		}
		if len(rows) != 3 {
			t.Fatalf("re-receive must not duplicate rows: got %d", len(rows))
		}
		commit(t, tx)
	})

	t.Run("TxoForAnotherAccount", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		_, _, _, err := tx.GetTxo(acc2.AccountID, seededIDs[0])
		if !obscura.IsTxoForAnotherAccountError(err) {
			t.Fatal("expected txo-for-another-account, got", err)
		}
		_, _, _, err = tx.GetTxo(acc2.AccountID, "no-such-txo")
		if !obscura.IsNotFoundError(err) {
			t.Fatal("expected not-found, got", err)
		}
		commit(t, tx)
	})

	var orphanID string
	var orphanOut obx.TxOut

	t.Run("OrphanedReceiveAndRecovery", func(t *testing.T) {
		// acc1 has subaddresses 0..2 assigned; pay an unassigned one by
		// scanning with a restricted set.
		txOut, _, err := obx.NewTxOut(5000, key1.Subaddress(2))
		if err != nil {
			t.Fatal("NewTxOut", err)
		}
		orphanOut = txOut

		tx := begin(t, s)
		defer tx.Rollback()
		orphanID, err = tx.CreateReceivedTxo(txOut, nil, nil, 5000, 20, acc1.AccountID)
		if err != nil {
			t.Fatal("CreateReceivedTxo", err)
		}
		_, status, _, err := tx.GetTxo(acc1.AccountID, orphanID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusOrphaned {
			t.Fatal("receive without a subaddress must be orphaned, got", status.TxoStatus)
		}
		spendable, err := tx.GetSpendableTxos(acc1.AccountID, 0)
		if err != nil {
			t.Fatal("GetSpendableTxos", err)
		}
		for _, txo := range spendable {
			if txo.TxoID == orphanID {
				t.Fatal("orphaned txo must not be spendable")
			}
		}

		// the subaddress becomes known: the orphan promotes
		res, err := key1.ScanTxOut(txOut, []uint64{0, 1, 2})
		if err != nil || res == nil || res.SubaddressIndex == nil {
			t.Fatal("scan with the assigned set must resolve the orphan")
		}
		if err := tx.UpdateReceivedTxo(acc1.AccountID, orphanID, res.SubaddressIndex, res.KeyImage, 20); err != nil {
			t.Fatal("UpdateReceivedTxo", err)
		}
		txo, status, _, err := tx.GetTxo(acc1.AccountID, orphanID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusUnspent {
			t.Fatal("recovered orphan must be unspent, got", status.TxoStatus)
		}
		if txo.SubaddressIndex == nil || *txo.SubaddressIndex != 2 || txo.KeyImage == nil {
			t.Fatal("recovered orphan must carry spendability data")
		}
		commit(t, tx)
	})

	t.Run("MissingSpendabilityData", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		idx := int64(0)
		err := tx.UpdateTxoToSpendable(seededIDs[0], &idx, nil, 10)
		if !obscura.IsError(err, obscura.MissingSpendabilityData) {
			t.Fatal("expected missing-spendability-data, got", err)
		}
		commit(t, tx)
	})

	t.Run("SharedOutputAcrossAccounts", func(t *testing.T) {
		// acc2 observes an output that already has a row (acc1's orphan
		// recovery case exercises the same txo table row).
		tx := begin(t, s)
		defer tx.Rollback()
		txoID, err := tx.CreateReceivedTxo(orphanOut, nil, nil, 5000, 20, acc2.AccountID)
		if err != nil {
			t.Fatal("CreateReceivedTxo for second account", err)
		}
		if txoID != orphanID {
			t.Fatal("both accounts must see the same output identity")
		}
		_, status, _, err := tx.GetTxo(acc2.AccountID, orphanID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusOrphaned {
			t.Fatal("second account's view starts orphaned, got", status.TxoStatus)
		}
		commit(t, tx)
	})

	var proposal obscura.TxProposal
	var mintedIDs []string

	t.Run("BuildAndLogProposal", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		acc, err := tx.GetAccount(acc1.AccountID)
		if err != nil {
			t.Fatal("GetAccount", err)
		}
		outlays := []obscura.Outlay{{Value: 250, Receiver: key2.Subaddress(0)}}
		proposal, err = obscura.BuildTxProposal(tx, acc, outlays, 10, 100, 1000)
		if err != nil {
			t.Fatal("BuildTxProposal", err)
		}
		// 100+200 from the dust sweep covers 260
		if len(proposal.InputTxos) != 2 || proposal.TotalInputValue() != 300 {
			t.Fatalf("expected inputs {100,200}, got %v", proposal.InputTxos)
		}
		if proposal.ChangeValue() != 40 {
			t.Fatalf("change: got %d, want 40", proposal.ChangeValue())
		}
		// outlay output plus change output
		if len(proposal.OutputTxOuts) != 2 {
			t.Fatalf("expected 2 outputs, got %d", len(proposal.OutputTxOuts))
		}
		if len(proposal.OutlayConfirmations) != 1 {
			t.Fatal("one confirmation per outlay")
		}

		mintedIDs, err = obscura.LogSubmittedProposal(tx, proposal)
		if err != nil {
			t.Fatal("LogSubmittedProposal", err)
		}
		if len(mintedIDs) != 2 {
			t.Fatalf("expected 2 minted txos, got %d", len(mintedIDs))
		}
		for _, input := range proposal.InputTxos {
			_, status, _, err := tx.GetTxo(acc1.AccountID, input.TxoID)
			if err != nil {
				t.Fatal("GetTxo", err)
			}
			if status.TxoStatus != obscura.TxoStatusPending {
				t.Fatal("logged input must be pending, got", status.TxoStatus)
			}
		}
		for _, txoID := range mintedIDs {
			_, status, _, err := tx.GetTxo(acc1.AccountID, txoID)
			if err != nil {
				t.Fatal("GetTxo", err)
			}
			if status.TxoStatus != obscura.TxoStatusSecreted || status.TxoType != obscura.TxoTypeMinted {
				t.Fatalf("minted output must be secreted/minted, got %s/%s", status.TxoStatus, status.TxoType)
			}
		}
		commit(t, tx)
	})

	t.Run("SelectingPendingInputFails", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		err := tx.UpdateTxoToPending(acc1.AccountID, proposal.InputTxos[0].TxoID, 100)
		if !obscura.IsInvariantViolation(err) {
			t.Fatal("double-selecting an input must violate the state machine, got", err)
		}
		tx.Rollback()
	})

	t.Run("ObserveSpends", func(t *testing.T) {
		var keyImages [][]byte
		var inputIDs []string
		for _, input := range proposal.InputTxos {
			keyImages = append(keyImages, input.KeyImage)
			inputIDs = append(inputIDs, input.TxoID)
		}

		tx := begin(t, s)
		defer tx.Rollback()
		allSpent, err := tx.AreAllTxosSpent(inputIDs)
		if err != nil {
			t.Fatal("AreAllTxosSpent", err)
		}
		if allSpent {
			t.Fatal("inputs are only pending so far")
		}
		spentIDs, err := tx.MarkSpentKeyImages(acc1.AccountID, keyImages, 42)
		if err != nil {
			t.Fatal("MarkSpentKeyImages", err)
		}
		if len(spentIDs) != 2 {
			t.Fatalf("expected 2 spends, got %d", len(spentIDs))
		}
		allSpent, err = tx.AreAllTxosSpent(inputIDs)
		if err != nil {
			t.Fatal("AreAllTxosSpent", err)
		}
		if !allSpent {
			t.Fatal("both inputs must now be spent")
		}
		txo, status, _, err := tx.GetTxo(acc1.AccountID, spentIDs[0])
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusSpent {
			t.Fatal("spend must be recorded, got", status.TxoStatus)
		}
		if txo.SpentBlockHeight == nil || *txo.SpentBlockHeight != 42 {
			t.Fatal("spent height must be recorded")
		}

		// unknown key images are not ours and are skipped
		more, err := tx.MarkSpentKeyImages(acc1.AccountID, [][]byte{{9, 9, 9}}, 43)
		if err != nil {
			t.Fatal("MarkSpentKeyImages", err)
		}
		if len(more) != 0 {
			t.Fatal("foreign key image must not match")
		}
		commit(t, tx)
	})

	t.Run("SpentIsTerminal", func(t *testing.T) {
		tx := begin(t, s)
		defer tx.Rollback()
		spentID := proposal.InputTxos[0].TxoID
		res := seeded[0]
		// replayed receipt of a spent output must not resurrect it
		_, err := tx.CreateReceivedTxo(seededOuts[0], res.SubaddressIndex, res.KeyImage, res.Value, 10, acc1.AccountID)
		if err != nil {
			t.Fatal("replayed receive", err)
		}
		_, status, _, err := tx.GetTxo(acc1.AccountID, spentID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusSpent {
			t.Fatal("spent must stay spent, got", status.TxoStatus)
		}
		commit(t, tx)
	})

	t.Run("ChangeComesBack", func(t *testing.T) {
		// find the change output in the proposal
		changeIndex := -1
		for i := range proposal.OutputTxOuts {
			if _, isOutlay := proposal.OutlayForOutputIndex(i); !isOutlay {
				changeIndex = i
			}
		}
		if changeIndex < 0 {
			t.Fatal("proposal must have a change output")
		}
		changeOut := proposal.OutputTxOuts[changeIndex]
		res, err := key1.ScanTxOut(changeOut, []uint64{0, 1, 2})
		if err != nil || res == nil {
			t.Fatal("change output must scan as ours")
		}
		if res.SubaddressIndex == nil || uint64(*res.SubaddressIndex) != obscura.ChangeSubaddress {
			t.Fatal("change must pay the change subaddress")
		}

		tx := begin(t, s)
		defer tx.Rollback()
		txoID, err := tx.CreateReceivedTxo(changeOut, res.SubaddressIndex, res.KeyImage, res.Value, 50, acc1.AccountID)
		if err != nil {
			t.Fatal("CreateReceivedTxo", err)
		}
		txo, status, _, err := tx.GetTxo(acc1.AccountID, txoID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusUnspent || status.TxoType != obscura.TxoTypeMinted {
			t.Fatalf("landed change must be unspent/minted, got %s/%s", status.TxoStatus, status.TxoType)
		}
		if txo.PendingTombstoneBlockHeight != nil {
			t.Fatal("landed output must not keep a tombstone")
		}
		if txo.Value != 40 {
			t.Fatalf("change value: got %d, want 40", txo.Value)
		}
		commit(t, tx)
	})

	t.Run("RecipientReceivesOutlay", func(t *testing.T) {
		outIndex := proposal.OutlayIndexToTxOutIndex[0]
		outlayOut := proposal.OutputTxOuts[outIndex]
		res, err := key2.ScanTxOut(outlayOut, []uint64{0, 1, 2})
		if err != nil || res == nil || res.SubaddressIndex == nil {
			t.Fatal("recipient must match the outlay output")
		}
		if res.Value != 250 {
			t.Fatalf("outlay value: got %d, want 250", res.Value)
		}

		tx := begin(t, s)
		defer tx.Rollback()
		txoID, err := tx.CreateReceivedTxo(outlayOut, res.SubaddressIndex, res.KeyImage, res.Value, 50, acc2.AccountID)
		if err != nil {
			t.Fatal("CreateReceivedTxo", err)
		}
		txo, status, _, err := tx.GetTxo(acc2.AccountID, txoID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusUnspent || status.TxoType != obscura.TxoTypeReceived {
			t.Fatalf("recipient's view must be unspent/received, got %s/%s", status.TxoStatus, status.TxoType)
		}
		// the sender-retained confirmation proves origin to the recipient
		if txo.Proof == nil {
			t.Fatal("outlay output must carry its confirmation")
		}
		if !obx.Confirmation(txo.Proof).Validate(txo.PublicKey, key2.ViewPrivate) {
			t.Fatal("confirmation must validate under the recipient's view key")
		}
		commit(t, tx)
	})

	t.Run("RecipientSpendsSharedOutput", func(t *testing.T) {
		// the sender still holds a secreted/minted row on the outlay
		// output; the recipient spending it must only flip their own row
		outIndex := proposal.OutlayIndexToTxOutIndex[0]
		outlayID := obx.TxoIDFromTxOut(proposal.OutputTxOuts[outIndex])

		tx := begin(t, s)
		defer tx.Rollback()
		if err := tx.UpdateTxoToPending(acc2.AccountID, outlayID, 200); err != nil {
			t.Fatal("recipient must be able to spend a shared output:", err)
		}
		_, status, _, err := tx.GetTxo(acc2.AccountID, outlayID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusPending {
			t.Fatal("recipient's row must be pending, got", status.TxoStatus)
		}
		_, status, _, err = tx.GetTxo(acc1.AccountID, outlayID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusSecreted {
			t.Fatal("sender's row must stay secreted, got", status.TxoStatus)
		}
		if err := tx.UpdateTxoToPending(acc1.AccountID, "no-such-txo", 200); !obscura.IsNotFoundError(err) {
			t.Fatal("spending an untracked txo must report not-found, got", err)
		}
		tx.Rollback()
	})

	t.Run("SelfPaymentToUnassignedSubaddress", func(t *testing.T) {
		// acc1 mints a payment to its own subaddress 7, which is not
		// assigned yet. When sync observes it back it cannot compute the
		// key image: the row must park as orphaned for the rescan, never
		// become unspent with no spendability data.
		txOut, conf, err := obx.NewTxOut(123, key1.Subaddress(7))
		if err != nil {
			t.Fatal("NewTxOut", err)
		}
		p := obscura.TxProposal{
			AccountID:               acc1.AccountID,
			InputTxos:               []obscura.Txo{{Value: 123}},
			Outlays:                 []obscura.Outlay{{Value: 123, Receiver: key1.Subaddress(7)}},
			TombstoneBlockHeight:    300,
			OutputTxOuts:            []obx.TxOut{txOut},
			OutlayIndexToTxOutIndex: map[int]int{0: 0},
			OutlayConfirmations:     []obx.Confirmation{conf},
		}

		tx := begin(t, s)
		defer tx.Rollback()
		_, txoID, _, _, err := tx.CreateMintedTxo(&acc1.AccountID, txOut, p, 0)
		if err != nil {
			t.Fatal("CreateMintedTxo", err)
		}
		if _, err := tx.CreateReceivedTxo(txOut, nil, nil, 123, 90, acc1.AccountID); err != nil {
			t.Fatal("CreateReceivedTxo", err)
		}
		txo, status, _, err := tx.GetTxo(acc1.AccountID, txoID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusOrphaned {
			t.Fatal("landed output without a subaddress must be orphaned, got", status.TxoStatus)
		}
		if txo.PendingTombstoneBlockHeight != nil {
			t.Fatal("landed output must not keep a tombstone")
		}
		spendable, err := tx.GetSpendableTxos(acc1.AccountID, 0)
		if err != nil {
			t.Fatal("GetSpendableTxos", err)
		}
		for _, candidate := range spendable {
			if candidate.TxoID == txoID {
				t.Fatal("output without a key image must not be spendable")
			}
		}

		// the subaddress is assigned later: the rescan promotes it
		res, err := key1.ScanTxOut(txOut, []uint64{7})
		if err != nil || res == nil || res.SubaddressIndex == nil {
			t.Fatal("scan with the assigned set must resolve the output")
		}
		if err := tx.UpdateReceivedTxo(acc1.AccountID, txoID, res.SubaddressIndex, res.KeyImage, 90); err != nil {
			t.Fatal("UpdateReceivedTxo", err)
		}
		txo, status, _, err = tx.GetTxo(acc1.AccountID, txoID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusUnspent {
			t.Fatal("recovered output must be unspent, got", status.TxoStatus)
		}
		if txo.SubaddressIndex == nil || *txo.SubaddressIndex != 7 || txo.KeyImage == nil {
			t.Fatal("recovered output must carry spendability data")
		}
		tx.Rollback()
	})

	t.Run("TombstoneExpiry", func(t *testing.T) {
		// seed a fresh txo, select it with a short tombstone
		txOut, res := payAccount(t, key1, 1, 800)
		tx := begin(t, s)
		defer tx.Rollback()
		txoID, err := tx.CreateReceivedTxo(txOut, res.SubaddressIndex, res.KeyImage, res.Value, 60, acc1.AccountID)
		if err != nil {
			t.Fatal("CreateReceivedTxo", err)
		}
		if err := tx.UpdateTxoToPending(acc1.AccountID, txoID, 70); err != nil {
			t.Fatal("UpdateTxoToPending", err)
		}

		failed, err := tx.AnyTxosFailed([]string{txoID}, 65)
		if err != nil {
			t.Fatal("AnyTxosFailed", err)
		}
		if failed {
			t.Fatal("tombstone not reached yet")
		}
		failed, err = tx.AnyTxosFailed([]string{txoID}, 80)
		if err != nil {
			t.Fatal("AnyTxosFailed", err)
		}
		if !failed {
			t.Fatal("pending past its tombstone must report failed")
		}

		// nothing expires before the tombstone
		count, err := tx.MarkExpiredTxosUnspent(acc1.AccountID, 65)
		if err != nil {
			t.Fatal("MarkExpiredTxosUnspent", err)
		}
		if count != 0 {
			t.Fatal("nothing should expire before the tombstone")
		}
		count, err = tx.MarkExpiredTxosUnspent(acc1.AccountID, 80)
		if err != nil {
			t.Fatal("MarkExpiredTxosUnspent", err)
		}
		if count != 1 {
			t.Fatalf("expected 1 expiry, got %d", count)
		}
		txo, status, _, err := tx.GetTxo(acc1.AccountID, txoID)
		if err != nil {
			t.Fatal("GetTxo", err)
		}
		if status.TxoStatus != obscura.TxoStatusUnspent {
			t.Fatal("expired txo must be spendable again, got", status.TxoStatus)
		}
		if txo.PendingTombstoneBlockHeight != nil {
			t.Fatal("expiry must clear the tombstone")
		}
		commit(t, tx)
	})

	t.Run("ChainState", func(t *testing.T) {
		state, err := s.GetChainState()
		if err != nil {
			t.Fatal("GetChainState", err)
		}
		if state.NextBlockHeight != 0 {
			t.Fatal("fresh database starts at height 0")
		}
		tx := begin(t, s)
		defer tx.Rollback()
		if err := tx.UpdateChainState(obscura.ChainState{NextBlockHeight: 123}); err != nil {
			t.Fatal("UpdateChainState", err)
		}
		commit(t, tx)
		state, err = s.GetChainState()
		if err != nil {
			t.Fatal("GetChainState", err)
		}
		if state.NextBlockHeight != 123 {
			t.Fatalf("chainstate: got %d, want 123", state.NextBlockHeight)
		}
	})

	t.Run("GiftCodes", func(t *testing.T) {
		gc := obscura.GiftCode{
			Code:         obscura.EncodeGiftCode(testEntropy(9), testEntropy(8)),
			Entropy:      testEntropy(9),
			TxoPublicKey: testEntropy(8),
			Value:        777,
			Memo:         "happy birthday",
			AccountID:    acc1.AccountID,
		}
		tx := begin(t, s)
		defer tx.Rollback()
		if err := tx.CreateGiftCode(gc); err != nil {
			t.Fatal("CreateGiftCode", err)
		}
		commit(t, tx)

		tx = begin(t, s)
		defer tx.Rollback()
		got, err := tx.GetGiftCode(gc.Code)
		if err != nil {
			t.Fatal("GetGiftCode", err)
		}
		if got.Value != 777 || got.Memo != "happy birthday" || !bytes.Equal(got.Entropy, gc.Entropy) {
			t.Fatal("gift code round trip lost data")
		}
		if _, err := tx.GetGiftCode("nope"); !obscura.IsNotFoundError(err) {
			t.Fatal("missing gift code must report not-found, got", err)
		}
		codes, err := tx.ListGiftCodes()
		if err != nil {
			t.Fatal("ListGiftCodes", err)
		}
		if len(codes) != 1 {
			t.Fatalf("expected 1 gift code, got %d", len(codes))
		}
		commit(t, tx)

		entropy, pubKey, err := obscura.DecodeGiftCode(gc.Code)
		if err != nil {
			t.Fatal("DecodeGiftCode", err)
		}
		if !bytes.Equal(entropy, gc.Entropy) || !bytes.Equal(pubKey, gc.TxoPublicKey) {
			t.Fatal("gift code token round trip lost data")
		}
	})
}
