package ethereum

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// encodeUint64 formats a quantity as a 0x-prefixed hex string without
// leading zeroes, as required by the JSON-RPC spec.
func encodeUint64(v uint64) string {
	return "0x" + strconv.FormatUint(v, 16)
}

// decodeUint64 parses a 0x-prefixed hex quantity.
func decodeUint64(s string) (uint64, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return 0, fmt.Errorf("quantity %q missing 0x prefix", s)
	}
	v, err := strconv.ParseUint(s[2:], 16, 64)
	if err != nil {
		return 0, fmt.Errorf("parse quantity %q: %w", s, err)
	}
	return v, nil
}

// decodeData parses 0x-prefixed hex data of arbitrary length.
func decodeData(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") && !strings.HasPrefix(s, "0X") {
		return nil, fmt.Errorf("data %q missing 0x prefix", s)
	}
	b, err := hex.DecodeString(s[2:])
	if err != nil {
		return nil, fmt.Errorf("parse data: %w", err)
	}
	return b, nil
}

// encodeData formats bytes as 0x-prefixed hex data.
func encodeData(b []byte) string {
	return "0x" + hex.EncodeToString(b)
}
