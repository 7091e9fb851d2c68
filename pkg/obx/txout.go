package obx

import (
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const fogHintLen = 16

// TxOut is one transaction output as it appears on the ledger. The
// fields are opaque to everything outside this package: the wallet core
// stores and hashes them without interpreting them.
type TxOut struct {
	TargetKey   []byte // one-time key binding the output to a subaddress
	PublicKey   []byte // per-output tx public key (sender-chosen)
	EFogHint    []byte // encrypted hint matched during view-key scanning
	MaskedValue uint64 // value XOR per-output mask
}

func targetKey(sharedSecret, subaddressSpendPublic []byte) []byte {
	return hash256("target_key", sharedSecret, subaddressSpendPublic)
}

func fogHint(sharedSecret []byte) []byte {
	return hash256("fog_hint", sharedSecret)[:fogHintLen]
}

func amountMask(sharedSecret []byte) uint64 {
	return binary.LittleEndian.Uint64(hash256("amount_mask", sharedSecret)[:8])
}

// NewTxOut constructs an output paying `value` to `recipient`, along
// with the sender-retained confirmation number for the output. Each call
// draws a fresh output key, so two outputs to the same recipient never
// share an identity.
func NewTxOut(value uint64, recipient PublicAddress) (TxOut, Confirmation, error) {
	outputPrivate := make([]byte, KeyLen)
	if _, err := rand.Read(outputPrivate); err != nil {
		return TxOut{}, nil, err
	}
	clamp(outputPrivate)
	outputPublic, err := curve25519.X25519(outputPrivate, curve25519.Basepoint)
	if err != nil {
		return TxOut{}, nil, err
	}
	// Sender-side Diffie-Hellman: output_private * recipient_view_public.
	secret, err := curve25519.X25519(outputPrivate, recipient.ViewPublic)
	if err != nil {
		return TxOut{}, nil, err
	}
	txOut := TxOut{
		TargetKey:   targetKey(secret, recipient.SpendPublic),
		PublicKey:   outputPublic,
		EFogHint:    fogHint(secret),
		MaskedValue: value ^ amountMask(secret),
	}
	return txOut, confirmationFromSecret(secret), nil
}

// Bytes is the canonical serialized form of a TxOut, stored verbatim in
// the txo table.
func (t TxOut) Bytes() []byte {
	out := make([]byte, 0, len(t.TargetKey)+len(t.PublicKey)+len(t.EFogHint)+8+3)
	for _, field := range [][]byte{t.TargetKey, t.PublicKey, t.EFogHint} {
		out = append(out, byte(len(field)))
		out = append(out, field...)
	}
	var v [8]byte
	binary.LittleEndian.PutUint64(v[:], t.MaskedValue)
	out = append(out, v[:]...)
	return out
}

func TxOutFromBytes(b []byte) (TxOut, error) {
	var t TxOut
	fields := []*[]byte{&t.TargetKey, &t.PublicKey, &t.EFogHint}
	for _, field := range fields {
		if len(b) < 1 {
			return TxOut{}, fmt.Errorf("truncated TxOut")
		}
		n := int(b[0])
		b = b[1:]
		if len(b) < n {
			return TxOut{}, fmt.Errorf("truncated TxOut")
		}
		*field = append([]byte{}, b[:n]...)
		b = b[n:]
	}
	if len(b) != 8 {
		return TxOut{}, fmt.Errorf("truncated TxOut")
	}
	t.MaskedValue = binary.LittleEndian.Uint64(b)
	return t, nil
}

// TxoIDFromTxOut derives the content-addressed identity of an output: a
// hex-encoded 32-byte digest over its cryptographic contents. Two
// byte-identical outputs always produce the same identity, which is how
// the store correlates the same output across accounts.
func TxoIDFromTxOut(t TxOut) string {
	return hex.EncodeToString(hash256("txo_data", t.Bytes()))
}
