package obscura

import (
	"github.com/obscuranet/obscurawallet/pkg/obx"
)

// GiftCode is a funded single-Txo account encoded as a B58 token that
// can be handed to someone without an account. The token carries the
// root entropy and the funding output's public key; redeeming it is a
// normal receive into the redeemer's wallet.
type GiftCode struct {
	Code         string // B58 token, primary key
	Entropy      []byte // root entropy of the gift account
	TxoPublicKey []byte
	Value        int64 // picocoin
	Memo         string
	AccountID    string // funding account
}

// EncodeGiftCode packs entropy and the funding output key into the B58
// token form.
func EncodeGiftCode(entropy []byte, txoPublicKey []byte) string {
	payload := make([]byte, 0, len(entropy)+len(txoPublicKey))
	payload = append(payload, entropy...)
	payload = append(payload, txoPublicKey...)
	return obx.Base58EncodeCheck(payload)
}

func DecodeGiftCode(code string) (entropy []byte, txoPublicKey []byte, err error) {
	payload, err := obx.Base58DecodeCheck(code)
	if err != nil {
		return nil, nil, NewErr(BadRequest, "invalid gift code: %v", err)
	}
	if len(payload) != 2*obx.KeyLen {
		return nil, nil, NewErr(BadRequest, "invalid gift code length: %d", len(payload))
	}
	return payload[:obx.KeyLen], payload[obx.KeyLen:], nil
}
