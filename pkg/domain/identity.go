package domain

import (
	"encoding/hex"
	"strings"

	"golang.org/x/crypto/sha3"

	dErrors "certreg/pkg/domain-errors"
)

const identityHexLen = 40

// Identity is an opaque principal: an Ethereum-style address, stored in
// lower-case "0x" + 40 hex digits form.
//
// Invariant: a non-empty Identity is always normalized. Construct it with
// ParseIdentity at trust boundaries; direct conversion skips validation.
type Identity string

// ZeroIdentity is the all-zero address, treated the same as the empty value.
const ZeroIdentity Identity = "0x0000000000000000000000000000000000000000"

// ParseIdentity validates and normalizes an address.
//
// Mixed-case input must carry a valid EIP-55 checksum. All-lower and all-upper
// input is accepted as is. The zero address parses successfully; callers decide
// whether a null identity is acceptable.
//
// Errors: CodeInvalidIdentity for empty or malformed input.
func ParseIdentity(s string) (Identity, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", dErrors.New(dErrors.CodeInvalidIdentity, "identity is required")
	}
	body, ok := strings.CutPrefix(s, "0x")
	if !ok {
		body, ok = strings.CutPrefix(s, "0X")
	}
	if !ok || len(body) != identityHexLen {
		return "", dErrors.New(dErrors.CodeInvalidIdentity, "identity must be a 0x-prefixed 20-byte hex address")
	}
	if _, err := hex.DecodeString(body); err != nil {
		return "", dErrors.New(dErrors.CodeInvalidIdentity, "identity must be a 0x-prefixed 20-byte hex address")
	}
	lower := strings.ToLower(body)
	if body != lower && body != strings.ToUpper(body) {
		if checksumHex(lower) != body {
			return "", dErrors.New(dErrors.CodeInvalidIdentity, "identity checksum mismatch")
		}
	}
	return Identity("0x" + lower), nil
}

// IsZero reports whether the identity is the null identity.
func (i Identity) IsZero() bool {
	return i == "" || i == ZeroIdentity
}

func (i Identity) String() string {
	return string(i)
}

// Checksum renders the EIP-55 mixed-case form.
func (i Identity) Checksum() string {
	if i == "" {
		return ""
	}
	return "0x" + checksumHex(strings.TrimPrefix(string(i), "0x"))
}

// checksumHex applies EIP-55 casing to a lower-case 40 digit hex string.
func checksumHex(lower string) string {
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
		}
		if nibble&0x0f >= 8 {
			out[i] = c - ('a' - 'A')
		}
	}
	return string(out)
}
