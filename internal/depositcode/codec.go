// Package depositcode implements the versioned binary envelope that a
// deposit code carries: nullifier, secret, chunk id and amount, base58
// wrapped for transport. See spec section 4.B.
package depositcode

import (
	"encoding/binary"
	"errors"
	"math/big"

	"github.com/mr-tron/base58"

	"github.com/cipherlabs/mixagent/pkg/errs"
)

// Sentinel causes, wrapped inside a BadInput *errs.Error so callers can
// branch with errors.Is on the specific failure named in spec section 4.B.
var (
	ErrBadVersion  = errors.New("depositcode: unrecognized version byte")
	ErrBadLength   = errors.New("depositcode: length disagrees with version")
	ErrBadEncoding = errors.New("depositcode: base58 decode failed")
)

// Version1 is the only envelope layout currently recognized.
const Version1 byte = 1

// version1Length is the total encoded length before base58: 1 + 32 + 32 + 4 + 8.
const version1Length = 1 + 32 + 32 + 4 + 8

// Code is the decoded content of a deposit code.
type Code struct {
	Version   byte
	Nullifier [32]byte
	Secret    [32]byte
	ChunkID   uint32
	Amount    uint64
}

// NullifierInt returns the nullifier interpreted as a big-endian field
// element, the form the Poseidon primitive expects.
func (c Code) NullifierInt() *big.Int { return new(big.Int).SetBytes(c.Nullifier[:]) }

// SecretInt returns the secret interpreted as a big-endian field element.
func (c Code) SecretInt() *big.Int { return new(big.Int).SetBytes(c.Secret[:]) }

// Encode is total: every well-formed Code produces a base58 string.
func Encode(c Code) string {
	buf := make([]byte, version1Length)
	buf[0] = Version1
	copy(buf[1:33], c.Nullifier[:])
	copy(buf[33:65], c.Secret[:])
	binary.BigEndian.PutUint32(buf[65:69], c.ChunkID)
	binary.BigEndian.PutUint64(buf[69:77], c.Amount)
	return base58.Encode(buf)
}

// Decode parses a base58 deposit code back into its fields.
func Decode(s string) (Code, error) {
	if s == "" {
		return Code{}, errs.Wrap(errs.BadInput, "depositcode.Decode", ErrBadVersion)
	}
	raw, err := base58.Decode(s)
	if err != nil {
		return Code{}, errs.Wrap(errs.BadInput, "depositcode.Decode", ErrBadEncoding)
	}
	if len(raw) == 0 {
		return Code{}, errs.Wrap(errs.BadInput, "depositcode.Decode", ErrBadVersion)
	}
	switch raw[0] {
	case Version1:
		if len(raw) != version1Length {
			return Code{}, errs.Wrap(errs.BadInput, "depositcode.Decode", ErrBadLength)
		}
		var c Code
		c.Version = Version1
		copy(c.Nullifier[:], raw[1:33])
		copy(c.Secret[:], raw[33:65])
		c.ChunkID = binary.BigEndian.Uint32(raw[65:69])
		c.Amount = binary.BigEndian.Uint64(raw[69:77])
		return c, nil
	default:
		return Code{}, errs.Wrap(errs.BadInput, "depositcode.Decode", ErrBadVersion)
	}
}
