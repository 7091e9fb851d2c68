package walletsync

import (
	"context"
	"log"
	"time"

	obscura "github.com/obscuranet/obscurawallet/pkg"
)

const (
	RETRY_DELAY = 5 * time.Second
	BATCH_SIZE  = 100 // blocks per store transaction
)

type txoEvent struct {
	event   obscura.EventType
	payload interface{}
}

/*
 * WalletSync walks the ledger, keeping every account up to date with
 * the tip.
 *
 * For each new block it scans the outputs against each account's view
 * key, records receives (matched or orphaned), marks outputs spent when
 * their key images appear, and releases pending outputs whose tombstone
 * height passed without a spend.
 *
 * The ledger is append-only, so there is no reorg handling: the stored
 * chainstate height only ever moves forward.
 *
 * ReceiveTip has capacity 1 because we only need to know that the tip
 * has changed since last time we checked; the height itself is re-read
 * over RPC.
 */
type WalletSync struct {
	l1         obscura.L1
	store      obscura.Store
	bus        obscura.MessageBus
	ReceiveTip chan int64
	stop       chan context.Context
	stopped    chan bool
}

func NewWalletSync(conf obscura.Config, l1 obscura.L1, store obscura.Store, bus obscura.MessageBus) (*WalletSync, error) {
	result := &WalletSync{
		l1:         l1,
		store:      store,
		bus:        bus,
		ReceiveTip: make(chan int64, 1), // signal that tip has changed.
	}
	return result, nil
}

func (c *WalletSync) Run(started, stopped chan bool, stop chan context.Context) error {
	go func() {
		c.stop, c.stopped = stop, stopped // for helpers.
		started <- true

		// Fetch the restart point from the DB.
		// INVARIANT: the store contains the effects of every block below
		// NextBlockHeight. We MUST commit store changes before advancing it.
		log.Println("WalletSync: fetching chainstate")
		state, stopping := c.fetchChainState()
		if stopping {
			return // stopped.
		}

		// Startup: catch up to the current tip.
		nextHeight, stopping := c.syncToTip(state.NextBlockHeight)
		if stopping {
			return // stopped.
		}

		// Main loop: catch up again each time the tip changes.
		for {
			select {
			case <-stop:
				stopped <- true
				return
			case <-c.ReceiveTip:
				log.Println("WalletSync: received new block signal")
			}

			nextHeight, stopping = c.syncToTip(nextHeight)
			if stopping {
				return // stopped.
			}
		}
	}()

	return nil
}

// syncToTip processes blocks from nextHeight up to the node's current
// tip, committing progress every BATCH_SIZE blocks.
func (c *WalletSync) syncToTip(nextHeight int64) (int64, bool) {
	for {
		tip, stopping := c.fetchBlockCount()
		if stopping {
			return nextHeight, true // stopped.
		}
		if nextHeight >= tip {
			log.Println("WalletSync: reached the tip of the ledger:", tip)
			return nextHeight, false
		}
		batchEnd := nextHeight + BATCH_SIZE
		if batchEnd > tip {
			batchEnd = tip
		}
		nextHeight, stopping = c.processBatch(nextHeight, batchEnd, tip)
		if stopping {
			return nextHeight, true // stopped.
		}
	}
}

// processBatch processes blocks [from, to) in one store transaction,
// with retry.
func (c *WalletSync) processBatch(from, to, tip int64) (int64, bool) {
	for {
		tx := c.beginStoreTxn()
		if tx == nil {
			return from, true // stopped.
		}
		events, err := c.processBatchTxn(tx, from, to, tip)
		if err != nil {
			tx.Rollback()
			if obscura.IsInvariantViolation(err) {
				// A broken transition means scanning produced data the
				// state machine rejects; applying it anyway would corrupt
				// the wallet. Do not retry blindly.
				log.Panicln("WalletSync: invariant violation:", err)
			}
			log.Println("WalletSync: batch failed:", err)
			if c.sleepInterrupted(RETRY_DELAY) {
				return from, true // stopped.
			}
			continue // retry.
		}
		err = tx.Commit()
		if err != nil {
			log.Println("WalletSync: cannot commit:", err)
			if c.sleepInterrupted(RETRY_DELAY) {
				return from, true // stopped.
			}
			continue // retry.
		}
		// Only announce what actually committed.
		for _, e := range events {
			c.bus.Send(e.event, e.payload)
		}
		return to, false // success.
	}
}

func (c *WalletSync) processBatchTxn(tx obscura.StoreTransaction, from, to, tip int64) ([]txoEvent, error) {
	accounts, err := tx.ListAccounts()
	if err != nil {
		return nil, err
	}
	var events []txoEvent
	for height := from; height < to; height++ {
		block, err := c.l1.GetBlock(height)
		if err != nil {
			return nil, err
		}
		for i := range accounts {
			if accounts[i].NextBlock > height {
				continue // this account has already seen this block
			}
			blockEvents, err := c.processBlockForAccount(tx, &accounts[i], block)
			if err != nil {
				return nil, err
			}
			events = append(events, blockEvents...)
		}
	}
	for i := range accounts {
		accountEvents, err := c.finishAccountBatch(tx, &accounts[i], to, tip)
		if err != nil {
			return nil, err
		}
		events = append(events, accountEvents...)
	}
	if err := tx.UpdateChainState(obscura.ChainState{NextBlockHeight: to}); err != nil {
		return nil, err
	}
	return events, nil
}

func (c *WalletSync) processBlockForAccount(tx obscura.StoreTransaction, acc *obscura.Account, block obscura.Block) ([]txoEvent, error) {
	key, err := acc.Key()
	if err != nil {
		return nil, err
	}
	assigned := acc.AssignedSubaddresses()
	var events []txoEvent
	for _, txOut := range block.TxOuts {
		res, err := key.ScanTxOut(txOut, assigned)
		if err != nil {
			return nil, err
		}
		if res == nil {
			continue // not this account's output
		}
		txoID, err := tx.CreateReceivedTxo(txOut, res.SubaddressIndex, res.KeyImage, res.Value, block.Height, acc.AccountID)
		if err != nil {
			return nil, err
		}
		event := obscura.TXO_RECEIVED
		if res.SubaddressIndex == nil {
			event = obscura.TXO_ORPHANED
		}
		events = append(events, txoEvent{event, map[string]interface{}{
			"account_id": acc.AccountID, "txo_id": txoID, "value": res.Value, "block_height": block.Height,
		}})
	}
	if len(block.KeyImages) > 0 {
		spentIDs, err := tx.MarkSpentKeyImages(acc.AccountID, block.KeyImages, block.Height)
		if err != nil {
			return nil, err
		}
		for _, txoID := range spentIDs {
			events = append(events, txoEvent{obscura.TXO_SPENT, map[string]interface{}{
				"account_id": acc.AccountID, "txo_id": txoID, "block_height": block.Height,
			}})
		}
	}
	return events, nil
}

// finishAccountBatch runs the per-account housekeeping after a batch of
// blocks: tombstone expiry, orphan re-scan, and advancing the account's
// sync checkpoint.
func (c *WalletSync) finishAccountBatch(tx obscura.StoreTransaction, acc *obscura.Account, to, tip int64) ([]txoEvent, error) {
	var events []txoEvent
	expired, err := tx.MarkExpiredTxosUnspent(acc.AccountID, tip)
	if err != nil {
		return nil, err
	}
	if expired > 0 {
		events = append(events, txoEvent{obscura.TXO_EXPIRED, map[string]interface{}{
			"account_id": acc.AccountID, "count": expired,
		}})
	}
	recovered, err := c.rescanOrphans(tx, acc)
	if err != nil {
		return nil, err
	}
	events = append(events, recovered...)
	if acc.NextBlock < to {
		acc.NextBlock = to
		if err := tx.UpdateAccount(*acc); err != nil {
			return nil, err
		}
		events = append(events, txoEvent{obscura.ACC_SYNCED, map[string]interface{}{
			"account_id": acc.AccountID, "next_block": to,
		}})
	}
	return events, nil
}

// rescanOrphans retries orphaned outputs against the account's current
// subaddress set; assigning a subaddress after the fact recovers them.
func (c *WalletSync) rescanOrphans(tx obscura.StoreTransaction, acc *obscura.Account) ([]txoEvent, error) {
	byStatus, err := tx.ListTxosByStatus(acc.AccountID)
	if err != nil {
		return nil, err
	}
	orphaned := byStatus[obscura.TxoStatusOrphaned]
	if len(orphaned) == 0 {
		return nil, nil
	}
	key, err := acc.Key()
	if err != nil {
		return nil, err
	}
	assigned := acc.AssignedSubaddresses()
	var events []txoEvent
	for _, txo := range orphaned {
		txOut, err := txo.TxOut()
		if err != nil {
			return nil, err
		}
		res, err := key.ScanTxOut(txOut, assigned)
		if err != nil {
			return nil, err
		}
		if res == nil || res.SubaddressIndex == nil {
			continue // still orphaned
		}
		receivedHeight := int64(0)
		if txo.ReceivedBlockHeight != nil {
			receivedHeight = *txo.ReceivedBlockHeight
		}
		if err := tx.UpdateReceivedTxo(acc.AccountID, txo.TxoID, res.SubaddressIndex, res.KeyImage, receivedHeight); err != nil {
			return nil, err
		}
		events = append(events, txoEvent{obscura.TXO_RECEIVED, map[string]interface{}{
			"account_id": acc.AccountID, "txo_id": txo.TxoID, "value": txo.Value, "recovered": true,
		}})
	}
	return events, nil
}

func (c *WalletSync) beginStoreTxn() (tx obscura.StoreTransaction) {
	for {
		tx, err := c.store.Begin()
		if err != nil {
			log.Println("WalletSync: beginStoreTxn: cannot begin:", err)
			if c.sleepInterrupted(RETRY_DELAY) {
				return nil // stopped.
			}
			continue // retry.
		}
		return tx
	}
}

func (c *WalletSync) fetchChainState() (obscura.ChainState, bool) {
	for {
		state, err := c.store.GetChainState()
		if err != nil {
			if obscura.IsNotFoundError(err) {
				return obscura.ChainState{}, false // empty chainstate.
			}
			log.Println("WalletSync: error retrieving chainstate:", err)
			if c.sleepInterrupted(RETRY_DELAY) {
				return obscura.ChainState{}, true // stopped.
			}
		} else {
			return state, false
		}
	}
}

func (c *WalletSync) fetchBlockCount() (int64, bool) {
	for {
		count, err := c.l1.GetBlockCount()
		if err != nil {
			log.Println("WalletSync: node RPC request failed: getblockcount:", err)
			if c.sleepInterrupted(RETRY_DELAY) {
				return 0, true // stopped.
			}
		} else {
			return count, false
		}
	}
}

// sleepInterrupted returns true if the service is shutting down.
func (c *WalletSync) sleepInterrupted(d time.Duration) bool {
	select {
	case <-c.stop:
		c.stopped <- true
		return true
	case <-time.After(d):
		return false
	}
}
