package obscura

import (
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// TxoKind distinguishes the outputs of one of our own transactions.
type TxoKind string

const (
	TxoKindOutput TxoKind = "output" // pays an outlay destination
	TxoKindChange TxoKind = "change" // returns the remainder to us
)

// Outlay is one intended payment in a proposal.
type Outlay struct {
	Value    uint64
	Receiver obx.PublicAddress
}

// TxProposal is a fully constructed outgoing transaction, ready to
// submit to the ledger node. The upstream builder produces at most one
// change output per proposal.
type TxProposal struct {
	AccountID            string
	InputTxos            []Txo
	Outlays              []Outlay
	Fee                  uint64
	TombstoneBlockHeight int64

	// Outputs of the transaction in ledger order, with the mapping from
	// outlay index to output index and the sender-retained confirmation
	// number per outlay.
	OutputTxOuts            []obx.TxOut
	OutlayIndexToTxOutIndex map[int]int
	OutlayConfirmations     []obx.Confirmation
}

func (p TxProposal) TotalInputValue() uint64 {
	var total uint64
	for _, txo := range p.InputTxos {
		total += uint64(txo.Value)
	}
	return total
}

func (p TxProposal) TotalOutlayValue() uint64 {
	var total uint64
	for _, outlay := range p.Outlays {
		total += outlay.Value
	}
	return total
}

// ChangeValue is what returns to the sending account: inputs minus
// outlays minus fee.
func (p TxProposal) ChangeValue() uint64 {
	return p.TotalInputValue() - p.TotalOutlayValue() - p.Fee
}

// OutlayForOutputIndex resolves which outlay (if any) an output index
// pays. The second result is false for the change output.
func (p TxProposal) OutlayForOutputIndex(outputIndex int) (int, bool) {
	for outlayIndex, txOutIndex := range p.OutlayIndexToTxOutIndex {
		if txOutIndex == outputIndex {
			return outlayIndex, true
		}
	}
	return 0, false
}

// BuildTxProposal selects inputs for the given outlays and constructs
// the transaction outputs, including the change output when the inputs
// overshoot. Coin selection is the only store access; output
// construction is pure.
func BuildTxProposal(tx StoreTransaction, account Account, outlays []Outlay, fee uint64, tombstoneBlockHeight int64, maxSpendableValue int64) (TxProposal, error) {
	if len(outlays) == 0 {
		return TxProposal{}, NewErr(BadRequest, "transaction has no outlays")
	}
	proposal := TxProposal{
		AccountID:               account.AccountID,
		Outlays:                 outlays,
		Fee:                     fee,
		TombstoneBlockHeight:    tombstoneBlockHeight,
		OutlayIndexToTxOutIndex: make(map[int]int, len(outlays)),
	}

	target := proposal.TotalOutlayValue() + fee
	inputs, err := SelectUnspentTxosForValue(tx, account.AccountID, target, maxSpendableValue)
	if err != nil {
		return TxProposal{}, err
	}
	proposal.InputTxos = inputs

	for i, outlay := range outlays {
		txOut, confirmation, err := obx.NewTxOut(outlay.Value, outlay.Receiver)
		if err != nil {
			return TxProposal{}, NewErr(UnknownError, "building output: %v", err)
		}
		proposal.OutlayIndexToTxOutIndex[i] = len(proposal.OutputTxOuts)
		proposal.OutputTxOuts = append(proposal.OutputTxOuts, txOut)
		proposal.OutlayConfirmations = append(proposal.OutlayConfirmations, confirmation)
	}

	if change := proposal.ChangeValue(); change > 0 {
		key, err := account.Key()
		if err != nil {
			return TxProposal{}, NewErr(UnknownError, "decoding account key: %v", err)
		}
		// No confirmation number is retained for change; it comes back
		// to us through normal sync.
		changeOut, _, err := obx.NewTxOut(change, key.Subaddress(ChangeSubaddress))
		if err != nil {
			return TxProposal{}, NewErr(UnknownError, "building change output: %v", err)
		}
		proposal.OutputTxOuts = append(proposal.OutputTxOuts, changeOut)
	}
	return proposal, nil
}

// LogSubmittedProposal records a just-submitted proposal in the store:
// one minted Txo per output, and every input flipped to pending. Runs in
// the caller's transaction so a partial failure rolls back whole.
func LogSubmittedProposal(tx StoreTransaction, proposal TxProposal) ([]string, error) {
	var mintedIDs []string
	for i := range proposal.OutputTxOuts {
		_, txoID, _, _, err := tx.CreateMintedTxo(&proposal.AccountID, proposal.OutputTxOuts[i], proposal, i)
		if err != nil {
			return nil, err
		}
		mintedIDs = append(mintedIDs, txoID)
	}
	for _, input := range proposal.InputTxos {
		if err := tx.UpdateTxoToPending(proposal.AccountID, input.TxoID, proposal.TombstoneBlockHeight); err != nil {
			return nil, err
		}
	}
	return mintedIDs, nil
}
