package store

import (
	"context"
	"database/sql"
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/lib/pq"
	"github.com/mattn/go-sqlite3"
	obscura "github.com/obscuranet/obscurawallet/pkg"
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// Binary columns (keys, key images, proofs) are stored hex-encoded in
// TEXT columns so the same schema works on both drivers.
const SETUP_SQL string = `
CREATE TABLE IF NOT EXISTS account (
	account_id TEXT NOT NULL PRIMARY KEY,
	name TEXT NOT NULL,
	account_key TEXT NOT NULL,
	next_subaddress_index INTEGER NOT NULL,
	next_block INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS txo (
	txo_id TEXT NOT NULL PRIMARY KEY,
	value INTEGER NOT NULL,
	target_key TEXT NOT NULL,
	public_key TEXT NOT NULL,
	e_fog_hint TEXT NOT NULL,
	txout TEXT NOT NULL,
	subaddress_index INTEGER,
	key_image TEXT,
	received_block_height INTEGER,
	pending_tombstone_block_height INTEGER,
	spent_block_height INTEGER,
	proof TEXT
);
CREATE INDEX IF NOT EXISTS txo_key_image_i ON txo (key_image);

CREATE TABLE IF NOT EXISTS account_txo_status (
	account_id TEXT NOT NULL,
	txo_id TEXT NOT NULL,
	txo_status TEXT NOT NULL,
	txo_type TEXT NOT NULL,
	PRIMARY KEY (account_id, txo_id)
);
CREATE INDEX IF NOT EXISTS account_txo_status_account_i ON account_txo_status (account_id);
CREATE INDEX IF NOT EXISTS account_txo_status_txo_i ON account_txo_status (txo_id);

CREATE TABLE IF NOT EXISTS chainstate (
	next_block_height INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS gift_code (
	code TEXT NOT NULL PRIMARY KEY,
	entropy TEXT NOT NULL,
	txo_public_key TEXT NOT NULL,
	value INTEGER NOT NULL,
	memo TEXT NOT NULL,
	account_id TEXT NOT NULL
);
`

const txoColumns = "txo_id, value, target_key, public_key, e_fog_hint, txout, subaddress_index, key_image, received_block_height, pending_tombstone_block_height, spent_block_height, proof"

/****************** SQLStore implements obscura.Store ********************/
var _ obscura.Store = SQLStore{}

type SQLStore struct {
	db       *sql.DB
	isSqlite bool
}

// NewSQLStore opens the wallet store. A "postgres://" URL selects the
// postgres driver; anything else is treated as a sqlite filename.
func NewSQLStore(dbFile string) (SQLStore, error) {
	driver := "postgres"
	isSqlite := false
	if !strings.HasPrefix(dbFile, "postgres://") {
		driver = "sqlite3"
		isSqlite = true
	}
	db, err := sql.Open(driver, dbFile)
	if err != nil {
		return SQLStore{}, dbErr(err, "opening database")
	}
	if isSqlite {
		// sqlite serializes writers itself; a single connection avoids
		// SQLITE_BUSY between our own transactions.
		db.SetMaxOpenConns(1)
	}
	// init tables / indexes
	_, err = db.Exec(SETUP_SQL)
	if err != nil {
		db.Close()
		return SQLStore{}, dbErr(err, "creating database schema")
	}
	store := SQLStore{db, isSqlite}
	if err := store.initChainState(); err != nil {
		db.Close()
		return SQLStore{}, err
	}
	return store, nil
}

// q rewrites ?-placeholders to the $n form postgres requires.
func (s SQLStore) q(query string) string {
	if s.isSqlite {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
		} else {
			b.WriteRune(c)
		}
	}
	return b.String()
}

func (s SQLStore) initChainState() error {
	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM chainstate").Scan(&count)
	if err != nil {
		return dbErr(err, "initChainState: counting rows")
	}
	if count == 0 {
		_, err = s.db.Exec("INSERT INTO chainstate (next_block_height) VALUES (0)")
		if err != nil {
			return dbErr(err, "initChainState: inserting row")
		}
	}
	return nil
}

// Defer this until shutdown
func (s SQLStore) Close() {
	s.db.Close()
}

func (s SQLStore) Begin() (obscura.StoreTransaction, error) {
	// Use 'Serializable' isolation so we don't need to reason about anomalies.
	tx, err := s.db.BeginTx(context.Background(), &sql.TxOptions{Isolation: sql.LevelSerializable})
	if err != nil {
		return &SQLStoreTransaction{}, dbErr(err, "beginning transaction")
	}
	return &SQLStoreTransaction{store: s, tx: tx}, nil
}

func (s SQLStore) GetAccount(accountID string) (obscura.Account, error) {
	return getAccountCommon(s.db, s.q, accountID)
}

func (s SQLStore) ListAccounts() ([]obscura.Account, error) {
	return listAccountsCommon(s.db, s.q)
}

func (s SQLStore) GetChainState() (obscura.ChainState, error) {
	return getChainStateCommon(s.db, s.q)
}

/************** SQLStoreTransaction implements obscura.StoreTransaction **************/
var _ obscura.StoreTransaction = &SQLStoreTransaction{}

type SQLStoreTransaction struct {
	store    SQLStore
	tx       *sql.Tx
	finality bool
}

func (t *SQLStoreTransaction) Commit() error {
	err := t.tx.Commit()
	if err != nil {
		return dbErr(err, "committing transaction")
	}
	t.finality = true
	return nil
}

func (t *SQLStoreTransaction) Rollback() error {
	if !t.finality {
		return t.tx.Rollback()
	}
	return nil
}

func (t *SQLStoreTransaction) q(query string) string {
	return t.store.q(query)
}

/****************** hex / nullable column helpers ********************/

type queryable interface {
	Query(query string, args ...interface{}) (*sql.Rows, error)
	QueryRow(query string, args ...interface{}) *sql.Row
}

func hexOf(b []byte) string {
	return hex.EncodeToString(b)
}

func nullHexOf(b []byte) sql.NullString {
	if b == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: hex.EncodeToString(b), Valid: true}
}

func fromHex(s string, where string) ([]byte, error) {
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, obscura.NewErr(obscura.UnknownError, "SQLStore error: %s: corrupt hex column: %v", where, err)
	}
	return b, nil
}

func fromNullHex(s sql.NullString, where string) ([]byte, error) {
	if !s.Valid {
		return nil, nil
	}
	return fromHex(s.String, where)
}

func nullInt(v *int64) sql.NullInt64 {
	if v == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: *v, Valid: true}
}

func intPtr(v sql.NullInt64) *int64 {
	if !v.Valid {
		return nil
	}
	i := v.Int64
	return &i
}

/****************** accounts ********************/

func getAccountCommon(db queryable, q func(string) string, accountID string) (obscura.Account, error) {
	row := db.QueryRow(q("SELECT account_id, name, account_key, next_subaddress_index, next_block FROM account WHERE account_id = ?"), accountID)
	var acc obscura.Account
	var keyHex string
	err := row.Scan(&acc.AccountID, &acc.Name, &keyHex, &acc.NextSubaddressIndex, &acc.NextBlock)
	if err == sql.ErrNoRows {
		return obscura.Account{}, obscura.NewErr(obscura.NotFound, "account not found: %v", accountID)
	}
	if err != nil {
		return obscura.Account{}, dbErr(err, "GetAccount: row.Scan")
	}
	acc.AccountKeyBytes, err = fromHex(keyHex, "GetAccount: account_key")
	if err != nil {
		return obscura.Account{}, err
	}
	return acc, nil
}

func listAccountsCommon(db queryable, q func(string) string) ([]obscura.Account, error) {
	rows, err := db.Query(q("SELECT account_id, name, account_key, next_subaddress_index, next_block FROM account ORDER BY account_id"))
	if err != nil {
		return nil, dbErr(err, "ListAccounts: querying accounts")
	}
	defer rows.Close()
	var accounts []obscura.Account
	for rows.Next() {
		var acc obscura.Account
		var keyHex string
		err := rows.Scan(&acc.AccountID, &acc.Name, &keyHex, &acc.NextSubaddressIndex, &acc.NextBlock)
		if err != nil {
			return nil, dbErr(err, "ListAccounts: scanning account row")
		}
		acc.AccountKeyBytes, err = fromHex(keyHex, "ListAccounts: account_key")
		if err != nil {
			return nil, err
		}
		accounts = append(accounts, acc)
	}
	if err = rows.Err(); err != nil {
		return nil, dbErr(err, "ListAccounts: querying accounts")
	}
	return accounts, nil
}

func (t *SQLStoreTransaction) CreateAccount(acc obscura.Account) error {
	_, err := t.tx.Exec(t.q("INSERT INTO account (account_id, name, account_key, next_subaddress_index, next_block) VALUES (?,?,?,?,?)"),
		acc.AccountID, acc.Name, hexOf(acc.AccountKeyBytes), acc.NextSubaddressIndex, acc.NextBlock)
	if err != nil {
		return dbErr(err, "CreateAccount: inserting account")
	}
	return nil
}

func (t *SQLStoreTransaction) GetAccount(accountID string) (obscura.Account, error) {
	return getAccountCommon(t.tx, t.q, accountID)
}

func (t *SQLStoreTransaction) ListAccounts() ([]obscura.Account, error) {
	return listAccountsCommon(t.tx, t.q)
}

func (t *SQLStoreTransaction) UpdateAccount(acc obscura.Account) error {
	res, err := t.tx.Exec(t.q("UPDATE account SET name = ?, next_subaddress_index = ?, next_block = ? WHERE account_id = ?"),
		acc.Name, acc.NextSubaddressIndex, acc.NextBlock, acc.AccountID)
	if err != nil {
		return dbErr(err, "UpdateAccount: updating account")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return dbErr(err, "UpdateAccount: RowsAffected")
	}
	if affected == 0 {
		return obscura.NewErr(obscura.NotFound, "account not found: %v", acc.AccountID)
	}
	return nil
}

/****************** txo rows ********************/

func (t *SQLStoreTransaction) scanTxo(row interface{ Scan(...interface{}) error }, where string) (obscura.Txo, error) {
	var txo obscura.Txo
	var targetKey, publicKey, eFogHint, txout string
	var subaddressIndex, receivedHeight, tombstoneHeight, spentHeight sql.NullInt64
	var keyImage, proof sql.NullString
	err := row.Scan(&txo.TxoID, &txo.Value, &targetKey, &publicKey, &eFogHint, &txout,
		&subaddressIndex, &keyImage, &receivedHeight, &tombstoneHeight, &spentHeight, &proof)
	if err != nil {
		return obscura.Txo{}, err
	}
	if txo.TargetKey, err = fromHex(targetKey, where); err != nil {
		return obscura.Txo{}, err
	}
	if txo.PublicKey, err = fromHex(publicKey, where); err != nil {
		return obscura.Txo{}, err
	}
	if txo.EFogHint, err = fromHex(eFogHint, where); err != nil {
		return obscura.Txo{}, err
	}
	if txo.TxOutBytes, err = fromHex(txout, where); err != nil {
		return obscura.Txo{}, err
	}
	if txo.KeyImage, err = fromNullHex(keyImage, where); err != nil {
		return obscura.Txo{}, err
	}
	if txo.Proof, err = fromNullHex(proof, where); err != nil {
		return obscura.Txo{}, err
	}
	txo.SubaddressIndex = intPtr(subaddressIndex)
	txo.ReceivedBlockHeight = intPtr(receivedHeight)
	txo.PendingTombstoneBlockHeight = intPtr(tombstoneHeight)
	txo.SpentBlockHeight = intPtr(spentHeight)
	return txo, nil
}

func (t *SQLStoreTransaction) getTxoRow(txoID string) (obscura.Txo, bool, error) {
	row := t.tx.QueryRow(t.q("SELECT "+txoColumns+" FROM txo WHERE txo_id = ?"), txoID)
	txo, err := t.scanTxo(row, "getTxoRow")
	if err == sql.ErrNoRows {
		return obscura.Txo{}, false, nil
	}
	if _, isWrapped := err.(*obscura.ErrorInfo); isWrapped {
		return obscura.Txo{}, false, err
	}
	if err != nil {
		return obscura.Txo{}, false, dbErr(err, "getTxoRow: row.Scan")
	}
	return txo, true, nil
}

func (t *SQLStoreTransaction) insertTxoRow(txo obscura.Txo) error {
	_, err := t.tx.Exec(t.q("INSERT INTO txo ("+txoColumns+") VALUES (?,?,?,?,?,?,?,?,?,?,?,?)"),
		txo.TxoID, txo.Value, hexOf(txo.TargetKey), hexOf(txo.PublicKey), hexOf(txo.EFogHint), hexOf(txo.TxOutBytes),
		nullInt(txo.SubaddressIndex), nullHexOf(txo.KeyImage), nullInt(txo.ReceivedBlockHeight),
		nullInt(txo.PendingTombstoneBlockHeight), nullInt(txo.SpentBlockHeight), nullHexOf(txo.Proof))
	if err != nil {
		return dbErr(err, "insertTxoRow: inserting txo")
	}
	return nil
}

func (t *SQLStoreTransaction) getStatusRow(accountID string, txoID string) (obscura.AccountTxoStatus, bool, error) {
	row := t.tx.QueryRow(t.q("SELECT account_id, txo_id, txo_status, txo_type FROM account_txo_status WHERE account_id = ? AND txo_id = ?"), accountID, txoID)
	var status obscura.AccountTxoStatus
	var statusStr, typeStr string
	err := row.Scan(&status.AccountID, &status.TxoID, &statusStr, &typeStr)
	if err == sql.ErrNoRows {
		return obscura.AccountTxoStatus{}, false, nil
	}
	if err != nil {
		return obscura.AccountTxoStatus{}, false, dbErr(err, "getStatusRow: row.Scan")
	}
	if status.TxoStatus, err = obscura.ParseTxoStatus(statusStr); err != nil {
		return obscura.AccountTxoStatus{}, false, err
	}
	if status.TxoType, err = obscura.ParseTxoType(typeStr); err != nil {
		return obscura.AccountTxoStatus{}, false, err
	}
	return status, true, nil
}

func (t *SQLStoreTransaction) insertStatusRow(status obscura.AccountTxoStatus) error {
	_, err := t.tx.Exec(t.q("INSERT INTO account_txo_status (account_id, txo_id, txo_status, txo_type) VALUES (?,?,?,?)"),
		status.AccountID, status.TxoID, string(status.TxoStatus), string(status.TxoType))
	if err != nil {
		return dbErr(err, "insertStatusRow: inserting status")
	}
	return nil
}

func (t *SQLStoreTransaction) setStatus(accountID string, txoID string, status obscura.TxoStatus) error {
	res, err := t.tx.Exec(t.q("UPDATE account_txo_status SET txo_status = ? WHERE account_id = ? AND txo_id = ?"),
		string(status), accountID, txoID)
	if err != nil {
		return dbErr(err, "setStatus: updating status")
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return dbErr(err, "setStatus: RowsAffected")
	}
	if affected == 0 {
		return obscura.NewErr(obscura.NotFound, "txo status not found: %v / %v", accountID, txoID)
	}
	return nil
}

func (t *SQLStoreTransaction) setSpendability(txoID string, subaddressIndex *int64, keyImage []byte, receivedBlockHeight int64) error {
	_, err := t.tx.Exec(t.q("UPDATE txo SET subaddress_index = ?, key_image = ?, received_block_height = ? WHERE txo_id = ?"),
		nullInt(subaddressIndex), nullHexOf(keyImage), receivedBlockHeight, txoID)
	if err != nil {
		return dbErr(err, "setSpendability: updating txo")
	}
	return nil
}

func (t *SQLStoreTransaction) CreateReceivedTxo(txOut obx.TxOut, subaddressIndex *int64, keyImage []byte,
	value uint64, receivedBlockHeight int64, accountID string) (string, error) {
	txoID := obx.TxoIDFromTxOut(txOut)

	// Already tracked by this account: fold into an update.
	_, tracked, err := t.getStatusRow(accountID, txoID)
	if err != nil {
		return "", err
	}
	if tracked {
		return txoID, t.UpdateReceivedTxo(accountID, txoID, subaddressIndex, keyImage, receivedBlockHeight)
	}

	status := obscura.TxoStatusUnspent
	if subaddressIndex == nil {
		// Owned by the account (view key matched) but the paying
		// subaddress is not assigned yet.
		status = obscura.TxoStatusOrphaned
	}

	_, txoExists, err := t.getTxoRow(txoID)
	if err != nil {
		return "", err
	}
	if txoExists {
		// The output row already exists (another account in this wallet,
		// or one of our own minted outputs): add this account's view of
		// it and refresh spendability if we can compute it.
		if err := t.insertStatusRow(obscura.AccountTxoStatus{
			AccountID: accountID, TxoID: txoID, TxoStatus: status, TxoType: obscura.TxoTypeReceived,
		}); err != nil {
			return "", err
		}
		if subaddressIndex != nil {
			if err := t.setSpendability(txoID, subaddressIndex, keyImage, receivedBlockHeight); err != nil {
				return "", err
			}
		}
		return txoID, nil
	}

	height := receivedBlockHeight
	txo := obscura.Txo{
		TxoID:               txoID,
		Value:               int64(value),
		TargetKey:           txOut.TargetKey,
		PublicKey:           txOut.PublicKey,
		EFogHint:            txOut.EFogHint,
		TxOutBytes:          txOut.Bytes(),
		SubaddressIndex:     subaddressIndex,
		KeyImage:            keyImage,
		ReceivedBlockHeight: &height,
	}
	if err := t.insertTxoRow(txo); err != nil {
		return "", err
	}
	if err := t.insertStatusRow(obscura.AccountTxoStatus{
		AccountID: accountID, TxoID: txoID, TxoStatus: status, TxoType: obscura.TxoTypeReceived,
	}); err != nil {
		return "", err
	}
	return txoID, nil
}

func (t *SQLStoreTransaction) CreateMintedTxo(accountID *string, txOut obx.TxOut, proposal obscura.TxProposal,
	outputIndex int) (*obx.PublicAddress, string, int64, obscura.TxoKind, error) {
	txoID := obx.TxoIDFromTxOut(txOut)
	totalOutlayValue := int64(proposal.TotalOutlayValue())

	kind := obscura.TxoKindChange
	value := int64(proposal.ChangeValue())
	var recipient *obx.PublicAddress
	var proof []byte
	if outlayIndex, isOutlay := proposal.OutlayForOutputIndex(outputIndex); isOutlay {
		kind = obscura.TxoKindOutput
		value = int64(proposal.Outlays[outlayIndex].Value)
		recipient = &proposal.Outlays[outlayIndex].Receiver
		proof = proposal.OutlayConfirmations[outlayIndex]
	}

	tombstone := proposal.TombstoneBlockHeight
	txo := obscura.Txo{
		TxoID:                       txoID,
		Value:                       value,
		TargetKey:                   txOut.TargetKey,
		PublicKey:                   txOut.PublicKey,
		EFogHint:                    txOut.EFogHint,
		TxOutBytes:                  txOut.Bytes(),
		PendingTombstoneBlockHeight: &tombstone,
		Proof:                       proof,
	}
	if err := t.insertTxoRow(txo); err != nil {
		return nil, "", 0, kind, err
	}

	// A minted output is secreted for the sending account until it is
	// observed in the ledger. Without an account there is no status row:
	// the output exists only as ledger data we produced.
	if accountID != nil {
		if err := t.insertStatusRow(obscura.AccountTxoStatus{
			AccountID: *accountID, TxoID: txoID,
			TxoStatus: obscura.TxoStatusSecreted, TxoType: obscura.TxoTypeMinted,
		}); err != nil {
			return nil, "", 0, kind, err
		}
	}
	return recipient, txoID, totalOutlayValue, kind, nil
}

func (t *SQLStoreTransaction) UpdateReceivedTxo(accountID string, txoID string, subaddressIndex *int64,
	keyImage []byte, receivedBlockHeight int64) error {
	status, tracked, err := t.getStatusRow(accountID, txoID)
	if err != nil {
		return err
	}
	if !tracked {
		return obscura.NewErr(obscura.NotFound, "txo not tracked by account: %v / %v", accountID, txoID)
	}
	txo, exists, err := t.getTxoRow(txoID)
	if err != nil {
		return err
	}
	if !exists {
		return obscura.NewErr(obscura.InvariantViolation, "status row without txo row: %v", txoID)
	}

	switch status.TxoType {
	case obscura.TxoTypeMinted:
		// One of our own outputs observed in the ledger (change, or a
		// payment to ourselves). Spent stays spent.
		if status.TxoStatus == obscura.TxoStatusSpent {
			return nil
		}
		if subaddressIndex == nil {
			subaddressIndex = txo.SubaddressIndex
		}
		if keyImage == nil {
			keyImage = txo.KeyImage
		}
		if subaddressIndex == nil || keyImage == nil {
			// Landed at a subaddress we have not assigned yet: it cannot
			// become spendable. Park it as orphaned so the rescan
			// promotes it once the subaddress is assigned, rather than
			// an unspent row with no key image that can never be
			// selected.
			if err := t.setStatus(accountID, txoID, obscura.TxoStatusOrphaned); err != nil {
				return err
			}
			if _, err := t.tx.Exec(t.q("UPDATE txo SET pending_tombstone_block_height = NULL, received_block_height = ? WHERE txo_id = ?"), receivedBlockHeight, txoID); err != nil {
				return dbErr(err, "UpdateReceivedTxo: clearing tombstone")
			}
			return nil
		}
		next, err := obscura.NextTxoStatus(status.TxoStatus, status.TxoType, obscura.TxoEventReceived)
		if err != nil {
			return err
		}
		if err := t.setStatus(accountID, txoID, next); err != nil {
			return err
		}
		// Landed: the tombstone no longer applies.
		if _, err := t.tx.Exec(t.q("UPDATE txo SET pending_tombstone_block_height = NULL WHERE txo_id = ?"), txoID); err != nil {
			return dbErr(err, "UpdateReceivedTxo: clearing tombstone")
		}
		return t.setSpendability(txoID, subaddressIndex, keyImage, receivedBlockHeight)

	case obscura.TxoTypeReceived:
		// Only a newly discovered subaddress changes anything here.
		if txo.SubaddressIndex != nil || subaddressIndex == nil {
			return nil
		}
		next, err := obscura.NextTxoStatus(status.TxoStatus, status.TxoType, obscura.TxoEventReceived)
		if err != nil {
			return err
		}
		if err := t.setStatus(accountID, txoID, next); err != nil {
			return err
		}
		return t.setSpendability(txoID, subaddressIndex, keyImage, receivedBlockHeight)
	}
	return obscura.NewErr(obscura.InvariantViolation, "unrecognized txo_type: %q", status.TxoType)
}

func (t *SQLStoreTransaction) UpdateTxoToSpendable(txoID string, subaddressIndex *int64, keyImage []byte,
	blockHeight int64) error {
	// Both fields must be known before any write happens.
	if subaddressIndex == nil || keyImage == nil {
		return obscura.NewErr(obscura.MissingSpendabilityData,
			"txo %v cannot become spendable without subaddress and key image", txoID)
	}
	_, exists, err := t.getTxoRow(txoID)
	if err != nil {
		return err
	}
	if !exists {
		return obscura.NewErr(obscura.NotFound, "txo not found: %v", txoID)
	}
	return t.setSpendability(txoID, subaddressIndex, keyImage, blockHeight)
}

func (t *SQLStoreTransaction) UpdateTxoToPending(accountID string, txoID string, tombstoneBlockHeight int64) error {
	// Only the spending account's view flips to pending. Other accounts
	// sharing the output (a funder's secreted row on an intra-wallet
	// payment) keep their own status.
	status, tracked, err := t.getStatusRow(accountID, txoID)
	if err != nil {
		return err
	}
	if !tracked {
		return obscura.NewErr(obscura.NotFound, "txo not tracked by account: %v / %v", accountID, txoID)
	}
	next, err := obscura.NextTxoStatus(status.TxoStatus, status.TxoType, obscura.TxoEventSelected)
	if err != nil {
		return err
	}
	if err := t.setStatus(accountID, txoID, next); err != nil {
		return err
	}
	_, err = t.tx.Exec(t.q("UPDATE txo SET pending_tombstone_block_height = ? WHERE txo_id = ?"), tombstoneBlockHeight, txoID)
	if err != nil {
		return dbErr(err, "UpdateTxoToPending: stamping tombstone")
	}
	return nil
}

func (t *SQLStoreTransaction) MarkSpentKeyImages(accountID string, keyImages [][]byte, blockHeight int64) ([]string, error) {
	var spentIDs []string
	for _, keyImage := range keyImages {
		row := t.tx.QueryRow(t.q(`SELECT t.txo_id, s.txo_status, s.txo_type FROM txo t
			JOIN account_txo_status s ON s.txo_id = t.txo_id
			WHERE t.key_image = ? AND s.account_id = ? AND s.txo_status IN ('unspent','pending')`),
			hexOf(keyImage), accountID)
		var txoID, statusStr, typeStr string
		err := row.Scan(&txoID, &statusStr, &typeStr)
		if err == sql.ErrNoRows {
			continue // not one of this account's outputs
		}
		if err != nil {
			return nil, dbErr(err, "MarkSpentKeyImages: row.Scan")
		}
		status, err := obscura.ParseTxoStatus(statusStr)
		if err != nil {
			return nil, err
		}
		txoType, err := obscura.ParseTxoType(typeStr)
		if err != nil {
			return nil, err
		}
		next, err := obscura.NextTxoStatus(status, txoType, obscura.TxoEventSpent)
		if err != nil {
			return nil, err
		}
		if err := t.setStatus(accountID, txoID, next); err != nil {
			return nil, err
		}
		_, err = t.tx.Exec(t.q("UPDATE txo SET spent_block_height = ?, pending_tombstone_block_height = NULL WHERE txo_id = ?"),
			blockHeight, txoID)
		if err != nil {
			return nil, dbErr(err, "MarkSpentKeyImages: updating txo")
		}
		spentIDs = append(spentIDs, txoID)
	}
	return spentIDs, nil
}

func (t *SQLStoreTransaction) MarkExpiredTxosUnspent(accountID string, blockHeight int64) (int64, error) {
	rows, err := t.tx.Query(t.q(`SELECT t.txo_id FROM txo t
		JOIN account_txo_status s ON s.txo_id = t.txo_id
		WHERE s.account_id = ? AND s.txo_status = 'pending'
		AND t.pending_tombstone_block_height IS NOT NULL
		AND t.pending_tombstone_block_height < ?`), accountID, blockHeight)
	if err != nil {
		return 0, dbErr(err, "MarkExpiredTxosUnspent: querying expired txos")
	}
	var expiredIDs []string
	for rows.Next() {
		var txoID string
		if err := rows.Scan(&txoID); err != nil {
			rows.Close()
			return 0, dbErr(err, "MarkExpiredTxosUnspent: scanning row")
		}
		expiredIDs = append(expiredIDs, txoID)
	}
	if err = rows.Err(); err != nil {
		rows.Close()
		return 0, dbErr(err, "MarkExpiredTxosUnspent: querying expired txos")
	}
	rows.Close()
	for _, txoID := range expiredIDs {
		if err := t.setStatus(accountID, txoID, obscura.TxoStatusUnspent); err != nil {
			return 0, err
		}
		_, err = t.tx.Exec(t.q("UPDATE txo SET pending_tombstone_block_height = NULL WHERE txo_id = ?"), txoID)
		if err != nil {
			return 0, dbErr(err, "MarkExpiredTxosUnspent: clearing tombstone")
		}
	}
	return int64(len(expiredIDs)), nil
}

/****************** queries ********************/

func (t *SQLStoreTransaction) listTxosWhere(where string, args ...interface{}) ([]obscura.TxoWithStatus, error) {
	query := "SELECT t.txo_id, t.value, t.target_key, t.public_key, t.e_fog_hint, t.txout, " +
		"t.subaddress_index, t.key_image, t.received_block_height, t.pending_tombstone_block_height, t.spent_block_height, t.proof, " +
		"s.account_id, s.txo_status, s.txo_type " +
		"FROM txo t JOIN account_txo_status s ON s.txo_id = t.txo_id " + where
	rows, err := t.tx.Query(t.q(query), args...)
	if err != nil {
		return nil, dbErr(err, "listTxosWhere: querying txos")
	}
	defer rows.Close()
	var result []obscura.TxoWithStatus
	for rows.Next() {
		var txo obscura.Txo
		var targetKey, publicKey, eFogHint, txout string
		var subaddressIndex, receivedHeight, tombstoneHeight, spentHeight sql.NullInt64
		var keyImage, proof sql.NullString
		var status obscura.AccountTxoStatus
		var statusStr, typeStr string
		err := rows.Scan(&txo.TxoID, &txo.Value, &targetKey, &publicKey, &eFogHint, &txout,
			&subaddressIndex, &keyImage, &receivedHeight, &tombstoneHeight, &spentHeight, &proof,
			&status.AccountID, &statusStr, &typeStr)
		if err != nil {
			return nil, dbErr(err, "listTxosWhere: scanning row")
		}
		if txo.TargetKey, err = fromHex(targetKey, "listTxosWhere"); err != nil {
			return nil, err
		}
		if txo.PublicKey, err = fromHex(publicKey, "listTxosWhere"); err != nil {
			return nil, err
		}
		if txo.EFogHint, err = fromHex(eFogHint, "listTxosWhere"); err != nil {
			return nil, err
		}
		if txo.TxOutBytes, err = fromHex(txout, "listTxosWhere"); err != nil {
			return nil, err
		}
		if txo.KeyImage, err = fromNullHex(keyImage, "listTxosWhere"); err != nil {
			return nil, err
		}
		if txo.Proof, err = fromNullHex(proof, "listTxosWhere"); err != nil {
			return nil, err
		}
		txo.SubaddressIndex = intPtr(subaddressIndex)
		txo.ReceivedBlockHeight = intPtr(receivedHeight)
		txo.PendingTombstoneBlockHeight = intPtr(tombstoneHeight)
		txo.SpentBlockHeight = intPtr(spentHeight)
		status.TxoID = txo.TxoID
		if status.TxoStatus, err = obscura.ParseTxoStatus(statusStr); err != nil {
			return nil, err
		}
		if status.TxoType, err = obscura.ParseTxoType(typeStr); err != nil {
			return nil, err
		}
		result = append(result, obscura.TxoWithStatus{Txo: txo, Status: status})
	}
	if err = rows.Err(); err != nil {
		return nil, dbErr(err, "listTxosWhere: querying txos")
	}
	return result, nil
}

func (t *SQLStoreTransaction) ListTxosForAccount(accountID string) ([]obscura.TxoWithStatus, error) {
	return t.listTxosWhere("WHERE s.account_id = ? ORDER BY t.txo_id", accountID)
}

func (t *SQLStoreTransaction) ListTxosByStatus(accountID string) (map[obscura.TxoStatus][]obscura.Txo, error) {
	rows, err := t.ListTxosForAccount(accountID)
	if err != nil {
		return nil, err
	}
	result := make(map[obscura.TxoStatus][]obscura.Txo)
	for _, row := range rows {
		result[row.Status.TxoStatus] = append(result[row.Status.TxoStatus], row.Txo)
	}
	return result, nil
}

func (t *SQLStoreTransaction) GetTxo(accountID string, txoID string) (obscura.Txo, obscura.AccountTxoStatus, *string, error) {
	txo, exists, err := t.getTxoRow(txoID)
	if err != nil {
		return obscura.Txo{}, obscura.AccountTxoStatus{}, nil, err
	}
	if !exists {
		return obscura.Txo{}, obscura.AccountTxoStatus{}, nil,
			obscura.NewErr(obscura.NotFound, "txo not found: %v", txoID)
	}
	status, tracked, err := t.getStatusRow(accountID, txoID)
	if err != nil {
		return obscura.Txo{}, obscura.AccountTxoStatus{}, nil, err
	}
	if !tracked {
		return obscura.Txo{}, obscura.AccountTxoStatus{}, nil,
			obscura.NewErr(obscura.TxoForAnotherAccount, "txo %v belongs to another account", txoID)
	}
	var address *string
	if txo.SubaddressIndex != nil {
		acc, err := t.GetAccount(accountID)
		if err != nil {
			return obscura.Txo{}, obscura.AccountTxoStatus{}, nil, err
		}
		key, err := acc.Key()
		if err != nil {
			return obscura.Txo{}, obscura.AccountTxoStatus{}, nil,
				obscura.NewErr(obscura.UnknownError, "decoding account key: %v", err)
		}
		b58 := key.Subaddress(uint64(*txo.SubaddressIndex)).B58()
		address = &b58
	}
	return txo, status, address, nil
}

// placeholders returns "(?,?,...)" with one slot per id.
func placeholders(n int) string {
	return "(" + strings.TrimRight(strings.Repeat("?,", n), ",") + ")"
}

func idArgs(ids []string) []interface{} {
	args := make([]interface{}, len(ids))
	for i, id := range ids {
		args[i] = id
	}
	return args
}

func (t *SQLStoreTransaction) SelectTxosByID(txoIDs []string) ([]obscura.TxoWithStatus, error) {
	if len(txoIDs) == 0 {
		return nil, nil
	}
	return t.listTxosWhere("WHERE t.txo_id IN "+placeholders(len(txoIDs))+" ORDER BY t.txo_id", idArgs(txoIDs)...)
}

func (t *SQLStoreTransaction) AreAllTxosSpent(txoIDs []string) (bool, error) {
	if len(txoIDs) == 0 {
		return true, nil
	}
	row := t.tx.QueryRow(t.q("SELECT COUNT(DISTINCT txo_id) FROM account_txo_status WHERE txo_id IN "+
		placeholders(len(txoIDs))+" AND txo_status = 'spent'"), idArgs(txoIDs)...)
	var spent int
	if err := row.Scan(&spent); err != nil {
		return false, dbErr(err, "AreAllTxosSpent: row.Scan")
	}
	return spent == len(txoIDs), nil
}

func (t *SQLStoreTransaction) AnyTxosFailed(txoIDs []string, blockHeight int64) (bool, error) {
	if len(txoIDs) == 0 {
		return false, nil
	}
	args := append(idArgs(txoIDs), blockHeight)
	row := t.tx.QueryRow(t.q(`SELECT COUNT(*) FROM txo t
		JOIN account_txo_status s ON s.txo_id = t.txo_id
		WHERE t.txo_id IN `+placeholders(len(txoIDs))+`
		AND s.txo_status IN ('secreted','unspent','pending')
		AND t.pending_tombstone_block_height IS NOT NULL
		AND t.pending_tombstone_block_height < ?`), args...)
	var failed int
	if err := row.Scan(&failed); err != nil {
		return false, dbErr(err, "AnyTxosFailed: row.Scan")
	}
	return failed > 0, nil
}

func (t *SQLStoreTransaction) GetSpendableTxos(accountID string, maxSpendableValue int64) ([]obscura.Txo, error) {
	where := `WHERE s.account_id = ? AND s.txo_status = 'unspent'
		AND t.subaddress_index IS NOT NULL AND t.key_image IS NOT NULL`
	args := []interface{}{accountID}
	if maxSpendableValue > 0 {
		where += " AND t.value <= ?"
		args = append(args, maxSpendableValue)
	}
	where += " ORDER BY t.value DESC, t.txo_id"
	rows, err := t.listTxosWhere(where, args...)
	if err != nil {
		return nil, err
	}
	txos := make([]obscura.Txo, 0, len(rows))
	for _, row := range rows {
		txos = append(txos, row.Txo)
	}
	return txos, nil
}

/****************** chainstate ********************/

func getChainStateCommon(db queryable, q func(string) string) (obscura.ChainState, error) {
	row := db.QueryRow(q("SELECT next_block_height FROM chainstate"))
	var state obscura.ChainState
	err := row.Scan(&state.NextBlockHeight)
	if err == sql.ErrNoRows {
		return obscura.ChainState{}, nil // fresh database
	}
	if err != nil {
		return obscura.ChainState{}, dbErr(err, "GetChainState: row.Scan")
	}
	return state, nil
}

func (t *SQLStoreTransaction) GetChainState() (obscura.ChainState, error) {
	return getChainStateCommon(t.tx, t.q)
}

func (t *SQLStoreTransaction) UpdateChainState(state obscura.ChainState) error {
	_, err := t.tx.Exec(t.q("UPDATE chainstate SET next_block_height = ?"), state.NextBlockHeight)
	if err != nil {
		return dbErr(err, "UpdateChainState: updating row")
	}
	return nil
}

/****************** gift codes ********************/

func (t *SQLStoreTransaction) CreateGiftCode(gc obscura.GiftCode) error {
	_, err := t.tx.Exec(t.q("INSERT INTO gift_code (code, entropy, txo_public_key, value, memo, account_id) VALUES (?,?,?,?,?,?)"),
		gc.Code, hexOf(gc.Entropy), hexOf(gc.TxoPublicKey), gc.Value, gc.Memo, gc.AccountID)
	if err != nil {
		return dbErr(err, "CreateGiftCode: inserting gift code")
	}
	return nil
}

func (t *SQLStoreTransaction) GetGiftCode(code string) (obscura.GiftCode, error) {
	row := t.tx.QueryRow(t.q("SELECT code, entropy, txo_public_key, value, memo, account_id FROM gift_code WHERE code = ?"), code)
	var gc obscura.GiftCode
	var entropy, pubKey string
	err := row.Scan(&gc.Code, &entropy, &pubKey, &gc.Value, &gc.Memo, &gc.AccountID)
	if err == sql.ErrNoRows {
		return obscura.GiftCode{}, obscura.NewErr(obscura.NotFound, "gift code not found")
	}
	if err != nil {
		return obscura.GiftCode{}, dbErr(err, "GetGiftCode: row.Scan")
	}
	if gc.Entropy, err = fromHex(entropy, "GetGiftCode: entropy"); err != nil {
		return obscura.GiftCode{}, err
	}
	if gc.TxoPublicKey, err = fromHex(pubKey, "GetGiftCode: txo_public_key"); err != nil {
		return obscura.GiftCode{}, err
	}
	return gc, nil
}

func (t *SQLStoreTransaction) ListGiftCodes() ([]obscura.GiftCode, error) {
	rows, err := t.tx.Query(t.q("SELECT code, entropy, txo_public_key, value, memo, account_id FROM gift_code ORDER BY code"))
	if err != nil {
		return nil, dbErr(err, "ListGiftCodes: querying gift codes")
	}
	defer rows.Close()
	var codes []obscura.GiftCode
	for rows.Next() {
		var gc obscura.GiftCode
		var entropy, pubKey string
		if err := rows.Scan(&gc.Code, &entropy, &pubKey, &gc.Value, &gc.Memo, &gc.AccountID); err != nil {
			return nil, dbErr(err, "ListGiftCodes: scanning row")
		}
		if gc.Entropy, err = fromHex(entropy, "ListGiftCodes: entropy"); err != nil {
			return nil, err
		}
		if gc.TxoPublicKey, err = fromHex(pubKey, "ListGiftCodes: txo_public_key"); err != nil {
			return nil, err
		}
		codes = append(codes, gc)
	}
	if err = rows.Err(); err != nil {
		return nil, dbErr(err, "ListGiftCodes: querying gift codes")
	}
	return codes, nil
}

/****************** driver error mapping ********************/

func dbErr(err error, where string) error {
	if pqErr, isPq := err.(*pq.Error); isPq {
		name := pqErr.Code.Name()
		if name == "unique_violation" {
			// MUST detect 'AlreadyExists' to fulfil the API contract!
			return obscura.NewErr(obscura.AlreadyExists, "SQLStore error: %s: %v", where, err)
		}
		if name == "serialization_failure" || name == "transaction_integrity_constraint_violation" {
			// Transient database conflict: the caller should retry.
			return obscura.NewErr(obscura.DBConflict, "SQLStore error: %s: %v", where, err)
		}
	}
	if sqErr, isSq := err.(sqlite3.Error); isSq {
		if sqErr.Code == sqlite3.ErrConstraint {
			return obscura.NewErr(obscura.AlreadyExists, "SQLStore error: %s: %v", where, err)
		}
		if sqErr.Code == sqlite3.ErrBusy || sqErr.Code == sqlite3.ErrLocked {
			return obscura.NewErr(obscura.DBConflict, "SQLStore error: %s: %v", where, err)
		}
	}
	return obscura.NewErr(obscura.NotAvailable, "SQLStore error: %s: %v", where, err)
}
