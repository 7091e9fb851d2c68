package obx

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"golang.org/x/crypto/curve25519"
)

const (
	KeyLen = 32 // bytes, all keys and key images.

	// AddressVersion prefixes every B58-encoded public address.
	AddressVersion = 0x51
)

// AccountKey is the root key material for one wallet account: a view
// private key (shared with read-only observers) and a spend private key.
// All subaddress keys derive deterministically from these two scalars.
type AccountKey struct {
	ViewPrivate  []byte // 32 bytes, clamped X25519 scalar
	SpendPrivate []byte // 32 bytes
}

// PublicAddress is the public half of one subaddress: enough to receive
// funds (construct outputs) but not to scan or spend.
type PublicAddress struct {
	ViewPublic  []byte // 32 bytes
	SpendPublic []byte // 32 bytes, subaddress spend public key
}

func clamp(k []byte) []byte {
	k[0] &= 248
	k[31] &= 127
	k[31] |= 64
	return k
}

// NewAccountKeyFromEntropy derives account keys from 32 bytes of root
// entropy. The same entropy always yields the same account.
func NewAccountKeyFromEntropy(entropy []byte) (AccountKey, error) {
	if len(entropy) != KeyLen {
		return AccountKey{}, fmt.Errorf("account entropy must be %d bytes, got %d", KeyLen, len(entropy))
	}
	return AccountKey{
		ViewPrivate:  clamp(hash256("view_private", entropy)),
		SpendPrivate: hash256("spend_private", entropy),
	}, nil
}

// RandomEntropy returns fresh root entropy for a new account.
func RandomEntropy() ([]byte, error) {
	entropy := make([]byte, KeyLen)
	if _, err := rand.Read(entropy); err != nil {
		return nil, err
	}
	return entropy, nil
}

func RandomAccountKey() (AccountKey, error) {
	entropy, err := RandomEntropy()
	if err != nil {
		return AccountKey{}, err
	}
	return NewAccountKeyFromEntropy(entropy)
}

// AccountKeyFromBytes decodes the serialized form produced by Bytes.
func AccountKeyFromBytes(b []byte) (AccountKey, error) {
	if len(b) != 2*KeyLen {
		return AccountKey{}, fmt.Errorf("account key must be %d bytes, got %d", 2*KeyLen, len(b))
	}
	return AccountKey{
		ViewPrivate:  append([]byte{}, b[:KeyLen]...),
		SpendPrivate: append([]byte{}, b[KeyLen:]...),
	}, nil
}

func (k AccountKey) Bytes() []byte {
	out := make([]byte, 0, 2*KeyLen)
	out = append(out, k.ViewPrivate...)
	out = append(out, k.SpendPrivate...)
	return out
}

func (k AccountKey) ViewPublic() []byte {
	pub, err := curve25519.X25519(k.ViewPrivate, curve25519.Basepoint)
	if err != nil {
		panic(err) // basepoint mult cannot fail on a clamped scalar
	}
	return pub
}

// AccountID is the stable hex identifier for this account, derived from
// public key material only.
func (k AccountKey) AccountID() string {
	return hex.EncodeToString(hash256("account_id", k.ViewPublic(), k.SubaddressSpendPublic(0)))
}

func le64(v uint64) []byte {
	var b [8]byte
	binary.LittleEndian.PutUint64(b[:], v)
	return b[:]
}

// SubaddressSpendPrivate derives the spend scalar for one subaddress.
// Requires the spend private key; view-only observers cannot call this.
func (k AccountKey) SubaddressSpendPrivate(index uint64) []byte {
	return clamp(hash256("subaddress_spend", k.SpendPrivate, le64(index)))
}

func (k AccountKey) SubaddressSpendPublic(index uint64) []byte {
	pub, err := curve25519.X25519(k.SubaddressSpendPrivate(index), curve25519.Basepoint)
	if err != nil {
		panic(err)
	}
	return pub
}

// Subaddress returns the public address for one subaddress index.
func (k AccountKey) Subaddress(index uint64) PublicAddress {
	return PublicAddress{
		ViewPublic:  k.ViewPublic(),
		SpendPublic: k.SubaddressSpendPublic(index),
	}
}

// KeyImage derives the key image that marks an output spent on the
// ledger, binding the subaddress spend key to the output's public key.
func (k AccountKey) KeyImage(subaddressIndex uint64, txoPublicKey []byte) []byte {
	return hash256("key_image", k.SubaddressSpendPrivate(subaddressIndex), txoPublicKey)
}

// sharedSecret recovers the per-output Diffie-Hellman secret from the
// recipient side: view_private * txo_public.
func (k AccountKey) sharedSecret(txoPublicKey []byte) ([]byte, error) {
	return curve25519.X25519(k.ViewPrivate, txoPublicKey)
}

// ScanResult is the outcome of matching one ledger output against an
// account's view key.
type ScanResult struct {
	Value           uint64
	SubaddressIndex *int64 // nil when the owning subaddress is not yet assigned (orphaned)
	KeyImage        []byte // nil when SubaddressIndex is nil
}

// ScanTxOut checks whether txOut belongs to this account, using the view
// private key, and tries to recover the owning subaddress from the given
// assigned indices. A hit with no subaddress match is an orphaned
// output: owned, but not yet spendable.
func (k AccountKey) ScanTxOut(txOut TxOut, assignedSubaddresses []uint64) (*ScanResult, error) {
	secret, err := k.sharedSecret(txOut.PublicKey)
	if err != nil {
		return nil, err
	}
	if !bytes.Equal(txOut.EFogHint, fogHint(secret)) {
		return nil, nil // not ours
	}
	res := &ScanResult{Value: txOut.MaskedValue ^ amountMask(secret)}
	for _, index := range assignedSubaddresses {
		if bytes.Equal(txOut.TargetKey, targetKey(secret, k.SubaddressSpendPublic(index))) {
			i := int64(index)
			res.SubaddressIndex = &i
			res.KeyImage = k.KeyImage(index, txOut.PublicKey)
			break
		}
	}
	return res, nil
}

func (a PublicAddress) B58() string {
	payload := make([]byte, 0, 1+2*KeyLen)
	payload = append(payload, AddressVersion)
	payload = append(payload, a.ViewPublic...)
	payload = append(payload, a.SpendPublic...)
	return Base58EncodeCheck(payload)
}

func PublicAddressFromB58(addr string) (PublicAddress, error) {
	payload, err := Base58DecodeCheck(addr)
	if err != nil {
		return PublicAddress{}, err
	}
	if len(payload) != 1+2*KeyLen || payload[0] != AddressVersion {
		return PublicAddress{}, fmt.Errorf("not an obscura address: %s", addr)
	}
	return PublicAddress{
		ViewPublic:  payload[1 : 1+KeyLen],
		SpendPublic: payload[1+KeyLen:],
	}, nil
}
