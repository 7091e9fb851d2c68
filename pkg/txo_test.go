package obscura

import (
	"testing"
)

func TestParseTxoStatus(t *testing.T) {
	for _, s := range []string{"unspent", "pending", "spent", "secreted", "orphaned"} {
		if _, err := ParseTxoStatus(s); err != nil {
			t.Fatal("ParseTxoStatus", s, err)
		}
	}
	if _, err := ParseTxoStatus("confirmed"); !IsInvariantViolation(err) {
		t.Fatal("unknown status must be rejected as an invariant violation")
	}
	if _, err := ParseTxoType("received"); err != nil {
		t.Fatal("ParseTxoType received")
	}
	if _, err := ParseTxoType("spent"); !IsInvariantViolation(err) {
		t.Fatal("unknown type must be rejected as an invariant violation")
	}
}

func TestNextTxoStatusTransitions(t *testing.T) {
	cases := []struct {
		current TxoStatus
		txoType TxoType
		event   TxoEvent
		want    TxoStatus
	}{
		{TxoStatusOrphaned, TxoTypeReceived, TxoEventReceived, TxoStatusUnspent},
		{TxoStatusSecreted, TxoTypeMinted, TxoEventReceived, TxoStatusUnspent},
		{TxoStatusUnspent, TxoTypeReceived, TxoEventReceived, TxoStatusUnspent},
		{TxoStatusPending, TxoTypeMinted, TxoEventReceived, TxoStatusUnspent},
		{TxoStatusUnspent, TxoTypeReceived, TxoEventSelected, TxoStatusPending},
		{TxoStatusUnspent, TxoTypeReceived, TxoEventSpent, TxoStatusSpent},
		{TxoStatusPending, TxoTypeMinted, TxoEventSpent, TxoStatusSpent},
		{TxoStatusSpent, TxoTypeReceived, TxoEventSpent, TxoStatusSpent},
		{TxoStatusPending, TxoTypeReceived, TxoEventExpired, TxoStatusUnspent},
	}
	for _, c := range cases {
		got, err := NextTxoStatus(c.current, c.txoType, c.event)
		if err != nil {
			t.Fatalf("NextTxoStatus(%s,%s,%s): %v", c.current, c.txoType, c.event, err)
		}
		if got != c.want {
			t.Fatalf("NextTxoStatus(%s,%s,%s): got %s, want %s", c.current, c.txoType, c.event, got, c.want)
		}
	}
}

func TestNextTxoStatusRejectsInvalidTransitions(t *testing.T) {
	invalid := []struct {
		current TxoStatus
		txoType TxoType
		event   TxoEvent
	}{
		// a received pending output cannot come back as received
		{TxoStatusPending, TxoTypeReceived, TxoEventReceived},
		// spent is terminal for receives
		{TxoStatusSpent, TxoTypeReceived, TxoEventReceived},
		{TxoStatusSpent, TxoTypeMinted, TxoEventReceived},
		// only unspent outputs can be selected
		{TxoStatusPending, TxoTypeReceived, TxoEventSelected},
		{TxoStatusSpent, TxoTypeReceived, TxoEventSelected},
		{TxoStatusOrphaned, TxoTypeReceived, TxoEventSelected},
		{TxoStatusSecreted, TxoTypeMinted, TxoEventSelected},
		// orphaned outputs have no key image to observe spent
		{TxoStatusOrphaned, TxoTypeReceived, TxoEventSpent},
		// only pending outputs expire
		{TxoStatusUnspent, TxoTypeReceived, TxoEventExpired},
		{TxoStatusSpent, TxoTypeMinted, TxoEventExpired},
	}
	for _, c := range invalid {
		if _, err := NextTxoStatus(c.current, c.txoType, c.event); !IsInvariantViolation(err) {
			t.Fatalf("NextTxoStatus(%s,%s,%s): expected invariant violation, got %v", c.current, c.txoType, c.event, err)
		}
	}
}
