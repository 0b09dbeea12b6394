// Package identity holds the participant reference type, the JWT key set used
// to authenticate callers, and the callback token scheme that lets external
// transports resume the coordinator as the system identity.
package identity

import (
	"strings"

	"golang.org/x/text/unicode/norm"
)

// AccountRef is an opaque participant identifier supplied by the caller
// identity provider.
type AccountRef string

// NewAccountRef trims surrounding whitespace and applies NFC normalization so
// that canonically equivalent spellings compare equal.
func NewAccountRef(s string) AccountRef {
	return AccountRef(norm.NFC.String(strings.TrimSpace(s)))
}

// String implements fmt.Stringer.
func (a AccountRef) String() string {
	return string(a)
}

// IsZero reports whether the reference is empty.
func (a AccountRef) IsZero() bool {
	return a == ""
}

// AccountRefs normalizes each element of ss.
func AccountRefs(ss []string) []AccountRef {
	out := make([]AccountRef, 0, len(ss))
	for _, s := range ss {
		out = append(out, NewAccountRef(s))
	}
	return out
}

// Strings converts refs back to plain strings.
func Strings(refs []AccountRef) []string {
	out := make([]string, 0, len(refs))
	for _, r := range refs {
		out = append(out, string(r))
	}
	return out
}
