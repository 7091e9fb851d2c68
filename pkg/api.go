package obscura

import (
	"encoding/hex"

	"github.com/obscuranet/obscurawallet/pkg/obx"
	"github.com/shopspring/decimal"
)

// PicoPerOBX is the number of indivisible ledger units in one OBX.
const PicoPerOBX = 1_000_000_000_000

// FormatOBX renders a picocoin amount as a decimal OBX value for
// display. All internal accounting stays in picocoin.
func FormatOBX(pico int64) decimal.Decimal {
	return decimal.New(pico, -12)
}

type API struct {
	Store Store
	L1    L1
	bus   MessageBus

	// tombstone height offset past the tip for new proposals
	tombstoneOffset int64
}

func NewAPI(store Store, l1 L1, bus MessageBus, config Config) API {
	return API{Store: store, L1: l1, bus: bus, tombstoneOffset: config.Obscurawallet.TombstoneOffset}
}

// CreateAccount makes a new account from the given root entropy, or from
// fresh randomness when entropy is nil. Importing existing entropy
// starts the account's sync from block zero so history is recovered.
func (a API) CreateAccount(name string, entropy []byte) (AccountPublic, error) {
	var key obx.AccountKey
	var err error
	var nextBlock int64
	if entropy == nil {
		key, err = obx.RandomAccountKey()
		if err != nil {
			return AccountPublic{}, NewErr(UnknownError, "generating account key: %v", err)
		}
		state, err := a.Store.GetChainState()
		if err != nil {
			return AccountPublic{}, err
		}
		nextBlock = state.NextBlockHeight
	} else {
		key, err = obx.NewAccountKeyFromEntropy(entropy)
		if err != nil {
			return AccountPublic{}, NewErr(BadRequest, "invalid entropy: %v", err)
		}
	}
	account := NewAccount(key, name, nextBlock)

	tx, err := a.Store.Begin()
	if err != nil {
		return AccountPublic{}, err
	}
	defer tx.Rollback()
	if err := tx.CreateAccount(account); err != nil {
		return AccountPublic{}, err
	}
	if err := tx.Commit(); err != nil {
		return AccountPublic{}, err
	}
	a.bus.Send(ACC_CREATED, account.GetPublicInfo())
	return account.GetPublicInfo(), nil
}

func (a API) GetAccount(accountID string) (AccountPublic, error) {
	acc, err := a.Store.GetAccount(accountID)
	if err != nil {
		return AccountPublic{}, err
	}
	return acc.GetPublicInfo(), nil
}

func (a API) ListAccounts() ([]AccountPublic, error) {
	accounts, err := a.Store.ListAccounts()
	if err != nil {
		return nil, err
	}
	out := make([]AccountPublic, 0, len(accounts))
	for _, acc := range accounts {
		out = append(out, acc.GetPublicInfo())
	}
	return out, nil
}

// AssignSubaddress allocates the account's next subaddress index and
// returns its B58 address. Outputs already on the ledger for the new
// index are picked up by a later orphan re-scan.
func (a API) AssignSubaddress(accountID string) (string, error) {
	tx, err := a.Store.Begin()
	if err != nil {
		return "", err
	}
	defer tx.Rollback()
	acc, err := tx.GetAccount(accountID)
	if err != nil {
		return "", err
	}
	key, err := acc.Key()
	if err != nil {
		return "", NewErr(UnknownError, "decoding account key: %v", err)
	}
	index := uint64(acc.NextSubaddressIndex)
	acc.NextSubaddressIndex++
	if err := tx.UpdateAccount(acc); err != nil {
		return "", err
	}
	if err := tx.Commit(); err != nil {
		return "", err
	}
	a.bus.Send(ACC_UPDATED, acc.GetPublicInfo())
	return key.Subaddress(index).B58(), nil
}

// Balance is the per-status picocoin totals for one account, with
// display values in whole OBX.
type Balance struct {
	AccountID string `json:"account_id"`

	Unspent  int64 `json:"unspent"`
	Pending  int64 `json:"pending"`
	Spent    int64 `json:"spent"`
	Secreted int64 `json:"secreted"`
	Orphaned int64 `json:"orphaned"`

	UnspentOBX decimal.Decimal `json:"unspent_obx"`
	PendingOBX decimal.Decimal `json:"pending_obx"`

	SyncedToBlock int64 `json:"synced_to_block"`
}

func (a API) GetBalance(accountID string) (Balance, error) {
	tx, err := a.Store.Begin()
	if err != nil {
		return Balance{}, err
	}
	defer tx.Rollback()
	acc, err := tx.GetAccount(accountID)
	if err != nil {
		return Balance{}, err
	}
	byStatus, err := tx.ListTxosByStatus(accountID)
	if err != nil {
		return Balance{}, err
	}
	sum := func(txos []Txo) (total int64) {
		for _, txo := range txos {
			total += txo.Value
		}
		return
	}
	b := Balance{
		AccountID:     accountID,
		Unspent:       sum(byStatus[TxoStatusUnspent]),
		Pending:       sum(byStatus[TxoStatusPending]),
		Spent:         sum(byStatus[TxoStatusSpent]),
		Secreted:      sum(byStatus[TxoStatusSecreted]),
		Orphaned:      sum(byStatus[TxoStatusOrphaned]),
		SyncedToBlock: acc.NextBlock,
	}
	b.UnspentOBX = FormatOBX(b.Unspent)
	b.PendingOBX = FormatOBX(b.Pending)
	return b, tx.Commit()
}

// TxoPublic is the external view of a Txo plus this account's status.
type TxoPublic struct {
	TxoID               string          `json:"txo_id"`
	Value               int64           `json:"value"`
	ValueOBX            decimal.Decimal `json:"value_obx"`
	Status              string          `json:"status"`
	Type                string          `json:"type"`
	SubaddressIndex     *int64          `json:"subaddress_index"`
	ReceivedBlockHeight *int64          `json:"received_block_height"`
	SpentBlockHeight    *int64          `json:"spent_block_height"`
	AssignedAddress     *string         `json:"assigned_address,omitempty"`
}

func toTxoPublic(txo Txo, status AccountTxoStatus, address *string) TxoPublic {
	return TxoPublic{
		TxoID:               txo.TxoID,
		Value:               txo.Value,
		ValueOBX:            FormatOBX(txo.Value),
		Status:              string(status.TxoStatus),
		Type:                string(status.TxoType),
		SubaddressIndex:     txo.SubaddressIndex,
		ReceivedBlockHeight: txo.ReceivedBlockHeight,
		SpentBlockHeight:    txo.SpentBlockHeight,
		AssignedAddress:     address,
	}
}

func (a API) ListTxos(accountID string) ([]TxoPublic, error) {
	tx, err := a.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	rows, err := tx.ListTxosForAccount(accountID)
	if err != nil {
		return nil, err
	}
	out := make([]TxoPublic, 0, len(rows))
	for _, row := range rows {
		out = append(out, toTxoPublic(row.Txo, row.Status, nil))
	}
	return out, tx.Commit()
}

func (a API) GetTxo(accountID string, txoID string) (TxoPublic, error) {
	tx, err := a.Store.Begin()
	if err != nil {
		return TxoPublic{}, err
	}
	defer tx.Rollback()
	txo, status, address, err := tx.GetTxo(accountID, txoID)
	if err != nil {
		return TxoPublic{}, err
	}
	return toTxoPublic(txo, status, address), tx.Commit()
}

// SendPaymentRequest is one outgoing transaction: one or more outlays
// plus an explicit fee, all in picocoin.
type SendPaymentRequest struct {
	Outlays []struct {
		Address string `json:"address"`
		Value   int64  `json:"value"`
	} `json:"outlays"`
	Fee               int64 `json:"fee"`
	MaxSpendableValue int64 `json:"max_spendable_value"` // <= 0 means no cap
}

type SendPaymentResponse struct {
	TxoIDs               []string `json:"txo_ids"` // minted outputs, ledger order
	InputTxoIDs          []string `json:"input_txo_ids"`
	Fee                  int64    `json:"fee"`
	TombstoneBlockHeight int64    `json:"tombstone_block_height"`
	Confirmations        []string `json:"confirmations"` // hex, one per outlay
}

// SendPayment builds a proposal for the request, submits it to the
// ledger node, and records the result: minted Txos for each output and
// every input flipped to pending. The store write happens only after
// the node accepts the submission.
func (a API) SendPayment(accountID string, request SendPaymentRequest) (SendPaymentResponse, error) {
	if request.Fee < 0 {
		return SendPaymentResponse{}, NewErr(BadRequest, "negative fee")
	}
	outlays := make([]Outlay, 0, len(request.Outlays))
	for _, o := range request.Outlays {
		if o.Value <= 0 {
			return SendPaymentResponse{}, NewErr(BadRequest, "outlay value must be positive")
		}
		addr, err := obx.PublicAddressFromB58(o.Address)
		if err != nil {
			return SendPaymentResponse{}, NewErr(BadRequest, "invalid address %q: %v", o.Address, err)
		}
		outlays = append(outlays, Outlay{Value: uint64(o.Value), Receiver: addr})
	}

	tip, err := a.L1.GetBlockCount()
	if err != nil {
		return SendPaymentResponse{}, NewErr(NotAvailable, "ledger node unavailable: %v", err)
	}
	tombstone := tip + a.tombstoneOffset

	tx, err := a.Store.Begin()
	if err != nil {
		return SendPaymentResponse{}, err
	}
	defer tx.Rollback()
	acc, err := tx.GetAccount(accountID)
	if err != nil {
		return SendPaymentResponse{}, err
	}
	proposal, err := BuildTxProposal(tx, acc, outlays, uint64(request.Fee), tombstone, request.MaxSpendableValue)
	if err != nil {
		return SendPaymentResponse{}, err
	}
	if err := a.L1.SubmitTx(proposal); err != nil {
		return SendPaymentResponse{}, NewErr(NotAvailable, "submitting transaction: %v", err)
	}
	mintedIDs, err := LogSubmittedProposal(tx, proposal)
	if err != nil {
		return SendPaymentResponse{}, err
	}
	if err := tx.Commit(); err != nil {
		return SendPaymentResponse{}, err
	}

	response := SendPaymentResponse{
		TxoIDs:               mintedIDs,
		Fee:                  request.Fee,
		TombstoneBlockHeight: tombstone,
	}
	for _, input := range proposal.InputTxos {
		response.InputTxoIDs = append(response.InputTxoIDs, input.TxoID)
	}
	for _, confirmation := range proposal.OutlayConfirmations {
		response.Confirmations = append(response.Confirmations, hex.EncodeToString(confirmation))
	}
	a.bus.Send(TXO_PENDING, response)
	return response, nil
}

// PaymentStatus summarises the fate of a set of Txos, normally the
// outputs of one submitted proposal.
type PaymentStatus struct {
	AllSpent bool `json:"all_spent"`
	Failed   bool `json:"failed"`
}

// GetPaymentStatus reports whether all the given Txos have landed
// (spent, for minted outputs consumed by the recipient's view of the
// ledger) or whether any missed their tombstone.
func (a API) GetPaymentStatus(txoIDs []string) (PaymentStatus, error) {
	tip, err := a.L1.GetBlockCount()
	if err != nil {
		return PaymentStatus{}, NewErr(NotAvailable, "ledger node unavailable: %v", err)
	}
	tx, err := a.Store.Begin()
	if err != nil {
		return PaymentStatus{}, err
	}
	defer tx.Rollback()
	allSpent, err := tx.AreAllTxosSpent(txoIDs)
	if err != nil {
		return PaymentStatus{}, err
	}
	failed, err := tx.AnyTxosFailed(txoIDs, tip)
	if err != nil {
		return PaymentStatus{}, err
	}
	return PaymentStatus{AllSpent: allSpent, Failed: failed}, tx.Commit()
}

// VerifyConfirmation checks a sender-supplied confirmation number
// against a Txo the account received. A valid confirmation proves the
// holder created the output.
func (a API) VerifyConfirmation(accountID string, txoID string, confirmationHex string) (bool, error) {
	confirmation, err := hex.DecodeString(confirmationHex)
	if err != nil {
		return false, NewErr(BadRequest, "invalid confirmation encoding: %v", err)
	}
	tx, err := a.Store.Begin()
	if err != nil {
		return false, err
	}
	defer tx.Rollback()
	acc, err := tx.GetAccount(accountID)
	if err != nil {
		return false, err
	}
	txo, _, _, err := tx.GetTxo(accountID, txoID)
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, err
	}
	key, err := acc.Key()
	if err != nil {
		return false, NewErr(UnknownError, "decoding account key: %v", err)
	}
	return obx.Confirmation(confirmation).Validate(txo.PublicKey, key.ViewPrivate), nil
}

// SetSyncHeight rewinds the sync checkpoint so the ledger is re-scanned
// from the given height. Receives are idempotent, so re-scanning
// already-seen blocks is safe; it just takes time.
func (a API) SetSyncHeight(height int64) error {
	if height < 0 {
		return NewErr(BadRequest, "negative height")
	}
	tx, err := a.Store.Begin()
	if err != nil {
		return err
	}
	defer tx.Rollback()
	if err := tx.UpdateChainState(ChainState{NextBlockHeight: height}); err != nil {
		return err
	}
	accounts, err := tx.ListAccounts()
	if err != nil {
		return err
	}
	for _, acc := range accounts {
		if acc.NextBlock > height {
			acc.NextBlock = height
			if err := tx.UpdateAccount(acc); err != nil {
				return err
			}
		}
	}
	return tx.Commit()
}

// GiftCodePublic is the external view of a stored gift code.
type GiftCodePublic struct {
	Code     string          `json:"code"`
	Value    int64           `json:"value"`
	ValueOBX decimal.Decimal `json:"value_obx"`
	Memo     string          `json:"memo"`
}

// CreateGiftCode funds a fresh single-purpose account with the given
// value and returns a B58 token carrying its entropy. Anyone holding
// the token can import the entropy and claim the funds.
func (a API) CreateGiftCode(accountID string, value int64, fee int64, memo string) (GiftCodePublic, error) {
	if value <= 0 {
		return GiftCodePublic{}, NewErr(BadRequest, "gift value must be positive")
	}
	entropy, err := obx.RandomEntropy()
	if err != nil {
		return GiftCodePublic{}, NewErr(UnknownError, "generating gift entropy: %v", err)
	}
	giftKey, err := obx.NewAccountKeyFromEntropy(entropy)
	if err != nil {
		return GiftCodePublic{}, NewErr(UnknownError, "deriving gift key: %v", err)
	}

	request := SendPaymentRequest{Fee: fee}
	request.Outlays = append(request.Outlays, struct {
		Address string `json:"address"`
		Value   int64  `json:"value"`
	}{Address: giftKey.Subaddress(MainSubaddress).B58(), Value: value})
	response, err := a.SendPayment(accountID, request)
	if err != nil {
		return GiftCodePublic{}, err
	}

	// The gift outlay is always output zero of a single-outlay proposal.
	tx, err := a.Store.Begin()
	if err != nil {
		return GiftCodePublic{}, err
	}
	defer tx.Rollback()
	rows, err := tx.SelectTxosByID(response.TxoIDs[:1])
	if err != nil {
		return GiftCodePublic{}, err
	}
	if len(rows) != 1 {
		return GiftCodePublic{}, NewErr(UnknownError, "gift funding output not recorded")
	}
	gc := GiftCode{
		Code:         EncodeGiftCode(entropy, rows[0].Txo.PublicKey),
		Entropy:      entropy,
		TxoPublicKey: rows[0].Txo.PublicKey,
		Value:        value,
		Memo:         memo,
		AccountID:    accountID,
	}
	if err := tx.CreateGiftCode(gc); err != nil {
		return GiftCodePublic{}, err
	}
	if err := tx.Commit(); err != nil {
		return GiftCodePublic{}, err
	}
	return GiftCodePublic{Code: gc.Code, Value: gc.Value, ValueOBX: FormatOBX(gc.Value), Memo: gc.Memo}, nil
}

func (a API) GetGiftCode(code string) (GiftCodePublic, error) {
	tx, err := a.Store.Begin()
	if err != nil {
		return GiftCodePublic{}, err
	}
	defer tx.Rollback()
	gc, err := tx.GetGiftCode(code)
	if err != nil {
		return GiftCodePublic{}, err
	}
	return GiftCodePublic{Code: gc.Code, Value: gc.Value, ValueOBX: FormatOBX(gc.Value), Memo: gc.Memo}, tx.Commit()
}

func (a API) ListGiftCodes() ([]GiftCodePublic, error) {
	tx, err := a.Store.Begin()
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()
	codes, err := tx.ListGiftCodes()
	if err != nil {
		return nil, err
	}
	out := make([]GiftCodePublic, 0, len(codes))
	for _, gc := range codes {
		out = append(out, GiftCodePublic{Code: gc.Code, Value: gc.Value, ValueOBX: FormatOBX(gc.Value), Memo: gc.Memo})
	}
	return out, tx.Commit()
}

// ClaimGiftCode imports the gift account so the holder's wallet syncs
// the funded output and can spend it.
func (a API) ClaimGiftCode(code string, name string) (AccountPublic, error) {
	entropy, _, err := DecodeGiftCode(code)
	if err != nil {
		return AccountPublic{}, err
	}
	return a.CreateAccount(name, entropy)
}
