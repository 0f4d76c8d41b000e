package state

import (
	"bytes"

	"github.com/google/btree"
)

// SlotDelta records a storage slot's value as first observed this
// transaction and its current value (§3.1's "(initial_storage,
// final_storage)" pair).
type SlotDelta struct {
	Initial Hash
	Current Hash
}

// AccountDelta is one address's (initial_account, final_account) pair plus
// its touched storage slots (§3.1's StateDelta element).
type AccountDelta struct {
	Initial        *Account
	Final          *Account
	Storage        map[Hash]*SlotDelta
	Code           []byte
	SelfDestructed bool
	// CreatedThisTx marks an account created and then selfdestructed within
	// the same transaction, which deletes it outright rather than merely
	// zeroing its balance (§4.6's selfdestruct semantics).
	CreatedThisTx bool
}

// Delta is a transaction's complete observed/written state, the unit
// CanMerge/Merge operate on (§4.6). Accounts is keyed for direct lookup;
// order holds the same keys in address order purely so Commit and tests
// can walk them deterministically instead of relying on Go's randomized
// map iteration.
type Delta struct {
	Accounts map[Address]*AccountDelta
	order    *btree.BTreeG[Address]
}

func addressLess(a, b Address) bool { return bytes.Compare(a[:], b[:]) < 0 }

// NewDelta returns an empty Delta ready to accumulate one transaction's
// reads and writes.
func NewDelta() *Delta {
	return &Delta{
		Accounts: make(map[Address]*AccountDelta),
		order:    btree.NewG(32, addressLess),
	}
}

func (d *Delta) account(addr Address) *AccountDelta {
	a, ok := d.Accounts[addr]
	if !ok {
		a = &AccountDelta{Storage: make(map[Hash]*SlotDelta)}
		d.Accounts[addr] = a
		d.order.ReplaceOrInsert(addr)
	}
	return a
}

// Addresses returns every touched address in ascending order.
func (d *Delta) Addresses() []Address {
	out := make([]Address, 0, d.order.Len())
	d.order.Ascend(func(addr Address) bool {
		out = append(out, addr)
		return true
	})
	return out
}
