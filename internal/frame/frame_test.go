package frame

import (
	"bytes"
	"encoding/binary"
	"errors"
	"strings"
	"testing"
)

func TestDecode(t *testing.T) {
	f := Frame{
		CenterFreq: 2437,
		Timestamp:  -123456,
		Bins:       []int8{-100, -90, -45, 0, 12, -128},
	}

	b, err := f.MarshalBinary()
	if err != nil {
		t.Fatalf("MarshalBinary failed: %v", err)
	}

	if len(b) != HeaderSize+len(f.Bins) {
		t.Fatalf("Expected %d bytes, got %d", HeaderSize+len(f.Bins), len(b))
	}
	if got := binary.LittleEndian.Uint32(b); got != Magic {
		t.Errorf("Expected magic %#x, got %#x", Magic, got)
	}
	if got := binary.LittleEndian.Uint16(b[87:]); got != 6 {
		t.Errorf("Expected bin count at offset 87 to be 6, got %d", got)
	}

	// trailing report bytes are ignored
	b = append(b, 0xaa, 0xbb)

	got, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}

	if got.CenterFreq != f.CenterFreq || got.Timestamp != f.Timestamp {
		t.Errorf("header mismatch: %+v", got)
	}
	if !bytes.Equal(int8Bytes(got.Bins), int8Bytes(f.Bins)) {
		t.Errorf("bins mismatch: %v", got.Bins)
	}

	// decoded bins must not alias the datagram
	b[HeaderSize] = 0
	if got.Bins[0] != -100 {
		t.Error("decoded frame aliases the input buffer")
	}
}

func TestDecode_Invalid(t *testing.T) {
	valid, _ := Frame{CenterFreq: 2412, Bins: make([]int8, 16)}.MarshalBinary()

	badMagic := bytes.Clone(valid)
	badMagic[0] = 0

	tooMany := bytes.Clone(valid)
	binary.LittleEndian.PutUint16(tooMany[87:], MaxBins+1)

	tests := []struct {
		name string
		data []byte
		want string
	}{
		{"empty", nil, "short"},
		{"short header", valid[:HeaderSize-1], "short"},
		{"bad magic", badMagic, "magic"},
		{"truncated bins", valid[:HeaderSize+8], "truncated"},
		{"too many bins", tooMany, "exceeds"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode(tt.data)
			if !errors.Is(err, ErrInvalidFrame) {
				t.Fatalf("Expected ErrInvalidFrame, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Expected error mentioning %q, got %v", tt.want, err)
			}
		})
	}
}

func TestTagCenterFreq(t *testing.T) {
	b, _ := Frame{Bins: make([]int8, 4)}.MarshalBinary()

	if !TagCenterFreq(b, 5180) {
		t.Fatal("Expected untagged frame to be tagged")
	}
	if TagCenterFreq(b, 2412) {
		t.Error("tagged frame must keep its center frequency")
	}

	f, err := Decode(b)
	if err != nil {
		t.Fatalf("Decode failed: %v", err)
	}
	if f.CenterFreq != 5180 {
		t.Errorf("Expected 5180 MHz, got %d", f.CenterFreq)
	}
}

func TestFrame_Frequencies(t *testing.T) {
	f := Frame{CenterFreq: 2442, Bins: make([]int8, 4)}

	if f.StartFreq() != 2422 || f.EndFreq() != 2462 {
		t.Errorf("unexpected span %v..%v", f.StartFreq(), f.EndFreq())
	}
	if got := f.BinFreq(0); got != 2427 {
		t.Errorf("Expected first bin at 2427 MHz, got %v", got)
	}
}

func TestNewAddress(t *testing.T) {
	dir := t.TempDir()

	a, err := NewAddress(dir)
	if err != nil {
		t.Fatalf("NewAddress failed: %v", err)
	}
	b, err := NewAddress(dir)
	if err != nil {
		t.Fatalf("NewAddress failed: %v", err)
	}

	if a == b {
		t.Error("addresses must be unique per session")
	}
	if !strings.HasPrefix(a, dir) || !strings.HasSuffix(a, ".sock") {
		t.Errorf("unexpected address %s", a)
	}

	if _, err := NewAddress(strings.Repeat("d", 120)); !errors.Is(err, ErrChannelUnavailable) {
		t.Errorf("Expected ErrChannelUnavailable for long path, got %v", err)
	}
}

func int8Bytes(v []int8) []byte {
	b := make([]byte, len(v))
	for i, x := range v {
		b[i] = byte(x)
	}
	return b
}
