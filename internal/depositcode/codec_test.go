package depositcode

import (
	"crypto/rand"
	"errors"
	"testing"
	"testing/quick"

	"github.com/mr-tron/base58"
)

func TestRoundTrip(t *testing.T) {
	f := func(nullifier, secret [32]byte, chunkID uint32, amount uint64) bool {
		c := Code{Version: Version1, Nullifier: nullifier, Secret: secret, ChunkID: chunkID, Amount: amount}
		decoded, err := Decode(Encode(c))
		if err != nil {
			t.Logf("decode error: %v", err)
			return false
		}
		return decoded == c
	}
	if err := quick.Check(f, &quick.Config{MaxCount: 512}); err != nil {
		t.Fatal(err)
	}
}

func TestDecodeRejectsBadVersion(t *testing.T) {
	raw := make([]byte, version1Length)
	raw[0] = 0xFF
	_, err := Decode(encodeRaw(raw))
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion, got %v", err)
	}
}

func TestDecodeRejectsBadLength(t *testing.T) {
	raw := make([]byte, version1Length-1)
	raw[0] = Version1
	_, err := Decode(encodeRaw(raw))
	if !errors.Is(err, ErrBadLength) {
		t.Fatalf("expected ErrBadLength, got %v", err)
	}
}

func TestDecodeRejectsBadEncoding(t *testing.T) {
	_, err := Decode("not-valid-base58-0OIl")
	if !errors.Is(err, ErrBadEncoding) {
		t.Fatalf("expected ErrBadEncoding, got %v", err)
	}
}

func TestDecodeRejectsEmpty(t *testing.T) {
	_, err := Decode("")
	if !errors.Is(err, ErrBadVersion) {
		t.Fatalf("expected ErrBadVersion for empty input, got %v", err)
	}
}

func TestEncodeIsTotal(t *testing.T) {
	var nullifier, secret [32]byte
	if _, err := rand.Read(nullifier[:]); err != nil {
		t.Fatal(err)
	}
	if _, err := rand.Read(secret[:]); err != nil {
		t.Fatal(err)
	}
	c := Code{Version: Version1, Nullifier: nullifier, Secret: secret, ChunkID: 0, Amount: 0}
	if Encode(c) == "" {
		t.Fatalf("expected non-empty encoding")
	}
}

func encodeRaw(raw []byte) string {
	return base58.Encode(raw)
}
