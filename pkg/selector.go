package obscura

// MaxInputs is the consensus ceiling on transaction inputs.
const MaxInputs = 16

// SelectUnspentTxosForValue chooses unspent Txos for the account summing
// to at least targetValue, using at most MaxInputs of them.
// maxSpendableValue <= 0 means no per-Txo value cap. Given an identical
// candidate snapshot the selection is deterministic.
func SelectUnspentTxosForValue(tx StoreTransaction, accountID string, targetValue uint64, maxSpendableValue int64) ([]Txo, error) {
	spendable, err := tx.GetSpendableTxos(accountID, maxSpendableValue)
	if err != nil {
		return nil, err
	}
	return selectFromSpendable(spendable, targetValue)
}

// selectFromSpendable is the selection algorithm proper, split out so it
// can be tested without a store. `spendable` must be sorted by value
// descending, which is how GetSpendableTxos returns it.
func selectFromSpendable(spendable []Txo, targetValue uint64) ([]Txo, error) {
	if len(spendable) == 0 {
		return nil, NewErr(NoSpendableFunds, "no spendable Txos in account")
	}

	// The most we can spend in one transaction is the sum of the largest
	// MaxInputs candidates.
	var maxSpendableInWallet uint64
	for i, txo := range spendable {
		if i >= MaxInputs {
			break
		}
		maxSpendableInWallet += uint64(txo.Value)
	}
	if targetValue > maxSpendableInWallet {
		var totalUnspent uint64
		for _, txo := range spendable {
			totalUnspent += uint64(txo.Value)
		}
		if totalUnspent >= targetValue {
			// The funds exist, but are scattered across more outputs
			// than one transaction can combine.
			return nil, NewErr(InsufficientFundsFragmented,
				"wallet has %d available, but it is fragmented across Txos that cannot be combined within %d inputs", totalUnspent, MaxInputs)
		}
		return nil, NewErr(InsufficientFundsUnderCap,
			"max spendable value in wallet: %d, but target value: %d", maxSpendableInWallet, targetValue)
	}

	// Opportunistically sweep up dust: take the smallest candidates from
	// the tail of the descending-sorted list until the target is met,
	// dropping the lowest-value pick whenever we overflow the input cap.
	var selected []Txo
	var total uint64
	for total < targetValue {
		if len(spendable) == 0 {
			return nil, NewErr(InsufficientFunds,
				"not enough Txos to sum to target value: %d", targetValue)
		}
		next := spendable[len(spendable)-1]
		spendable = spendable[:len(spendable)-1]
		selected = append(selected, next)
		total += uint64(next.Value)
		if len(selected) > MaxInputs {
			total -= uint64(selected[0].Value)
			selected = selected[1:]
		}
	}

	if len(selected) == 0 || len(selected) > MaxInputs {
		// Unreachable given the checks above; a breach here is an
		// internal logic error, not a user-facing funds problem.
		return nil, NewErr(InvariantViolation,
			"could not select Txos despite having sufficient funds")
	}
	return selected, nil
}
