package obx

import (
	"crypto/sha256"

	"golang.org/x/crypto/blake2b"
)

// hash256 computes a domain-separated BLAKE2b-256 digest over the
// concatenation of parts. Every digest in the obx package goes through
// this function so that no two constructions can collide across domains.
func hash256(domain string, parts ...[]byte) []byte {
	h, err := blake2b.New256(nil)
	if err != nil {
		panic(err) // nil key never fails
	}
	h.Write([]byte(domain))
	for _, p := range parts {
		h.Write(p)
	}
	return h.Sum(nil)
}

func DoubleSha256(bytes []byte) []byte {
	sum := sha256.Sum256(bytes)
	sum = sha256.Sum256(sum[:])
	return sum[:]
}
