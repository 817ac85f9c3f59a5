package domain

import (
	"encoding/hex"
	"fmt"
	"math/big"
)

// BigIntToDecimalString and DecimalStringToBigInt round-trip large integers
// (quantity, price, secret, nonce) at the REST/WebSocket boundary, preserving
// precision that would be lost in a JSON number.
func BigIntToDecimalString(v *big.Int) string {
	if v == nil {
		return "0"
	}
	return v.String()
}

func DecimalStringToBigInt(s string) (*big.Int, error) {
	v, ok := new(big.Int).SetString(s, 10)
	if !ok {
		return nil, fmt.Errorf("invalid decimal integer %q", s)
	}
	return v, nil
}

// BytesToHex and HexToBytes round-trip proof/signal byte strings.
func BytesToHex(b []byte) string {
	if len(b) == 0 {
		return ""
	}
	return "0x" + hex.EncodeToString(b)
}

func HexToBytes(s string) ([]byte, error) {
	if s == "" {
		return nil, nil
	}
	if len(s) >= 2 && s[0] == '0' && (s[1] == 'x' || s[1] == 'X') {
		s = s[2:]
	}
	return hex.DecodeString(s)
}
