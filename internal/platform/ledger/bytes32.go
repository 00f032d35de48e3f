package ledger

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"
	"unicode/utf8"
)

var ErrInvalidIdentifier = errors.New("ledger: invalid bytes32 identifier")

// EncodeBytes32 packs s into a zero-padded 32-byte word rendered as 0x-hex.
// At most 31 bytes of UTF-8 fit so the word stays null-terminated.
func EncodeBytes32(s string) (string, error) {
	b := []byte(s)
	if len(b) > 31 {
		return "", fmt.Errorf("%w: %q is %d bytes, max 31", ErrInvalidIdentifier, s, len(b))
	}
	var word [32]byte
	copy(word[:], b)
	return "0x" + hex.EncodeToString(word[:]), nil
}

// DecodeBytes32 reverses EncodeBytes32.
func DecodeBytes32(h string) (string, error) {
	raw, err := hex.DecodeString(strings.TrimPrefix(h, "0x"))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrInvalidIdentifier, err)
	}
	if len(raw) != 32 {
		return "", fmt.Errorf("%w: %d bytes", ErrInvalidIdentifier, len(raw))
	}
	if raw[31] != 0 {
		return "", fmt.Errorf("%w: missing null terminator", ErrInvalidIdentifier)
	}
	out := bytes.TrimRight(raw, "\x00")
	if !utf8.Valid(out) {
		return "", fmt.Errorf("%w: not utf-8", ErrInvalidIdentifier)
	}
	return string(out), nil
}

// IsWord reports whether h is a 0x-prefixed 32-byte lowercase hex string,
// the shape of both encoded identifiers and record hashes.
func IsWord(h string) bool {
	if len(h) != 66 || !strings.HasPrefix(h, "0x") {
		return false
	}
	for _, c := range h[2:] {
		if !(c >= '0' && c <= '9' || c >= 'a' && c <= 'f') {
			return false
		}
	}
	return true
}
