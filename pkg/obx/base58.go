package obx

import (
	"bytes"
	"fmt"

	"github.com/mr-tron/base58"
)

func Base58Encode(data []byte) string {
	return base58.FastBase58Encoding(data)
}

// Base58EncodeCheck appends a 4-byte double-SHA256 checksum before
// encoding. Note: append may write the checksum into spare capacity of
// the caller's slice.
func Base58EncodeCheck(data []byte) string {
	sum := DoubleSha256(data)
	data = append(data, sum[0:4]...)
	return base58.FastBase58Encoding(data)
}

func Base58Decode(str string) ([]byte, error) {
	return base58.FastBase58Decoding(str)
}

func Base58DecodeCheck(str string) ([]byte, error) {
	data, err := Base58Decode(str)
	if err != nil {
		return nil, err
	}
	if len(data) < 5 {
		return nil, fmt.Errorf("Base58Check: too short")
	}
	split := len(data) - 4
	payload := data[0:split]
	sum := DoubleSha256(payload)
	if !bytes.Equal(data[split:], sum[0:4]) {
		return nil, fmt.Errorf("Base58Check: wrong checksum")
	}
	return payload, nil
}
