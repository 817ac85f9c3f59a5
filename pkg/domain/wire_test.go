package domain

import (
	"math/big"
	"testing"
)

func TestDecimalStringRoundTrip(t *testing.T) {
	want, _ := new(big.Int).SetString("123456789012345678901234567890", 10)
	s := BigIntToDecimalString(want)
	got, err := DecimalStringToBigInt(s)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if got.Cmp(want) != 0 {
		t.Errorf("got %s, want %s", got, want)
	}
}

func TestDecimalStringToBigIntRejectsGarbage(t *testing.T) {
	if _, err := DecimalStringToBigInt("not-a-number"); err == nil {
		t.Error("expected error for non-numeric input")
	}
}

func TestHexRoundTrip(t *testing.T) {
	want := []byte{0xde, 0xad, 0xbe, 0xef}
	s := BytesToHex(want)
	if s != "0xdeadbeef" {
		t.Errorf("got %s", s)
	}
	got, err := HexToBytes(s)
	if err != nil {
		t.Fatalf("decode: %v", err)
	}
	if string(got) != string(want) {
		t.Errorf("got %x, want %x", got, want)
	}
}

func TestHexToBytesEmpty(t *testing.T) {
	got, err := HexToBytes("")
	if err != nil || got != nil {
		t.Errorf("expected nil, nil, got %x, %v", got, err)
	}
}

func TestOrderValidate(t *testing.T) {
	o := &PrivateOrder{Quantity: big.NewInt(10), Price: big.NewInt(5), Timestamp: 100, Expiry: 200}
	if err := o.Validate(); err != nil {
		t.Errorf("unexpected error: %v", err)
	}

	expired := &PrivateOrder{Quantity: big.NewInt(10), Price: big.NewInt(5), Timestamp: 300, Expiry: 200}
	if err := expired.Validate(); err == nil {
		t.Error("expected error for order past expiry")
	}

	zeroQty := &PrivateOrder{Quantity: big.NewInt(0), Price: big.NewInt(5), Timestamp: 1, Expiry: 2}
	if err := zeroQty.Validate(); err == nil {
		t.Error("expected error for zero quantity")
	}
}
