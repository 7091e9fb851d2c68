package obx

import (
	"crypto/subtle"
)

// Confirmation is the sender-retained confirmation number for one
// output: evidence that a specific output came from a specific
// transaction, checkable by the recipient alone.
type Confirmation []byte

func confirmationFromSecret(sharedSecret []byte) Confirmation {
	return hash256("confirmation_number", sharedSecret)
}

// Validate checks a confirmation number against an output's public key
// and the recipient's view private key. Pure and side-effect free.
func (c Confirmation) Validate(txoPublicKey []byte, viewPrivate []byte) bool {
	k := AccountKey{ViewPrivate: viewPrivate}
	secret, err := k.sharedSecret(txoPublicKey)
	if err != nil {
		return false
	}
	expected := confirmationFromSecret(secret)
	return subtle.ConstantTimeCompare(c, expected) == 1
}
