// Package wallet derives custodial addresses for imported posts whose author
// has not verified ownership yet.
package wallet

import (
	"encoding/hex"
	"errors"
	"strings"

	"golang.org/x/crypto/sha3"
)

var ErrEmptySeed = errors.New("custodial seed is required")

// Deriver maps a post id to a stable Ethereum-style address. Two posts by the
// same unclaimed author get different addresses; the address moves to the
// author's public key once their credential is verified.
type Deriver struct {
	seed []byte
}

func NewDeriver(seed string) (*Deriver, error) {
	if strings.TrimSpace(seed) == "" {
		return nil, ErrEmptySeed
	}
	return &Deriver{seed: []byte(seed)}, nil
}

// CustodialAddress returns the EIP-55 checksummed address for postID.
func (d *Deriver) CustodialAddress(postID string) string {
	h := sha3.NewLegacyKeccak256()
	h.Write(d.seed)
	h.Write([]byte("//"))
	h.Write([]byte(postID))
	sum := h.Sum(nil)
	return checksum(sum[len(sum)-20:])
}

func checksum(addr []byte) string {
	lower := hex.EncodeToString(addr)
	h := sha3.NewLegacyKeccak256()
	h.Write([]byte(lower))
	digest := h.Sum(nil)

	out := []byte(lower)
	for i, c := range out {
		if c < 'a' || c > 'f' {
			continue
		}
		nibble := digest[i/2]
		if i%2 == 0 {
			nibble >>= 4
		} else {
			nibble &= 0x0f
		}
		if nibble >= 8 {
			out[i] = c - 32
		}
	}
	return "0x" + string(out)
}

// IsAddress reports whether s looks like a 20-byte hex address.
func IsAddress(s string) bool {
	if !strings.HasPrefix(s, "0x") || len(s) != 42 {
		return false
	}
	_, err := hex.DecodeString(s[2:])
	return err == nil
}
