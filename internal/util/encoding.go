package util

import (
	"encoding/hex"

	"golang.org/x/text/unicode/norm"
)

// Normalize applies NFKD normalization so visually identical passwords and
// usernames hash identically regardless of the input method that produced
// them.
func Normalize(s string) string {
	return norm.NFKD.String(s)
}

func HexEncode(b []byte) string {
	return hex.EncodeToString(b)
}

func HexDecode(s string) ([]byte, error) {
	return hex.DecodeString(s)
}
