package verifier

import (
	"fmt"

	"github.com/gagliardetto/solana-go"
)

// AccountRefs is an ordered list of account references supplied alongside a
// batch instruction. Positions are only dereferenced after Expect has
// confirmed the list has the length the instruction arguments imply.
type AccountRefs struct {
	keys    []solana.PublicKey
	checked int
}

// NewAccountRefs wraps keys without copying them.
func NewAccountRefs(keys ...solana.PublicKey) *AccountRefs {
	return &AccountRefs{keys: keys, checked: -1}
}

// Len returns the number of references.
func (r *AccountRefs) Len() int {
	return len(r.keys)
}

// Expect checks the list has exactly n entries. It must succeed before At is
// used.
func (r *AccountRefs) Expect(n int) error {
	if len(r.keys) != n {
		return fmt.Errorf("%w: expected %d account references, got %d", ErrAccountMismatch, n, len(r.keys))
	}
	r.checked = n
	return nil
}

// At returns the reference at index i.
func (r *AccountRefs) At(i int) (solana.PublicKey, error) {
	if r.checked < 0 {
		return solana.PublicKey{}, fmt.Errorf("%w: account references read before length check", ErrAccountMismatch)
	}
	if i < 0 || i >= r.checked {
		return solana.PublicKey{}, fmt.Errorf("%w: account reference %d out of range", ErrAccountMismatch, i)
	}
	return r.keys[i], nil
}
