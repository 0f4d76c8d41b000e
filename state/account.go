package state

import (
	"encoding/binary"
	"fmt"

	"github.com/holiman/uint256"
)

// Address and Hash are the fixed-width key types the account and storage
// tries are keyed on (§3.1 keys the trie with 32-byte hashed addresses/
// slots; we key directly on the raw 20/32-byte values, following
// state_test_util.go's plain libcommon.Address/Hash rather than erigon's
// separately-hashed "plain state" keying, since nothing in this engine
// needs the hashed-key indirection a full MDBX-backed state layer does).
type Address [20]byte
type Hash [32]byte

const accountEncodedLen = 8 + 32 + 32 + 8

// Account is the MPT leaf value for the account trie (§3.1): nonce,
// balance, code hash and incarnation. Storage is not embedded as a root
// hash field the way go-ethereum's RLP account does — it is attached as
// the leaf's Next child entry instead (§4.6's "storage subtries are
// attached via Update.next").
type Account struct {
	Nonce       uint64
	Balance     *uint256.Int
	CodeHash    Hash
	Incarnation uint64
}

// EmptyCodeHash is the Keccak-256 of the empty byte string, the value an
// account with no code carries.
var EmptyCodeHash = Hash{0xc5, 0xd2, 0x46, 0x01, 0x86, 0xf7, 0x23, 0x3c, 0x92, 0x7e, 0x7d, 0xb2, 0xdc, 0xc7, 0x03, 0xc0, 0xe5, 0x00, 0xb6, 0x53, 0xca, 0x82, 0x27, 0x3b, 0x7b, 0xfa, 0xd8, 0x04, 0x5d, 0x85, 0xa4, 0x70}

// NewAccount returns a freshly created, zero-balance account.
func NewAccount() *Account {
	return &Account{Balance: new(uint256.Int), CodeHash: EmptyCodeHash}
}

// IsEmpty matches EIP-161's empty-account predicate: zero nonce, zero
// balance, no code.
func (a *Account) IsEmpty() bool {
	return a.Nonce == 0 && a.Balance.IsZero() && a.CodeHash == EmptyCodeHash
}

func (a *Account) clone() *Account {
	if a == nil {
		return nil
	}
	cp := *a
	if a.Balance != nil {
		cp.Balance = new(uint256.Int).Set(a.Balance)
	}
	return &cp
}

func accountsEqual(a, b *Account) bool {
	if a == nil || b == nil {
		return a == b
	}
	return a.Nonce == b.Nonce && a.Balance.Eq(b.Balance) && a.CodeHash == b.CodeHash && a.Incarnation == b.Incarnation
}

// EncodeAccount serializes an account into the account trie's fixed-width
// leaf value. Every field has a fixed width, so unlike trie/rlp.go's
// variable-length child-data blobs there is no benefit to an RLP shape
// here; a flat binary.BigEndian layout is used instead.
func EncodeAccount(a *Account) []byte {
	buf := make([]byte, accountEncodedLen)
	binary.BigEndian.PutUint64(buf[0:8], a.Nonce)
	bal := a.Balance
	if bal == nil {
		bal = new(uint256.Int)
	}
	b32 := bal.Bytes32()
	copy(buf[8:40], b32[:])
	copy(buf[40:72], a.CodeHash[:])
	binary.BigEndian.PutUint64(buf[72:80], a.Incarnation)
	return buf
}

// DecodeAccount reverses EncodeAccount.
func DecodeAccount(data []byte) (*Account, error) {
	if len(data) != accountEncodedLen {
		return nil, fmt.Errorf("state: account value has %d bytes, want %d", len(data), accountEncodedLen)
	}
	a := &Account{Balance: new(uint256.Int)}
	a.Nonce = binary.BigEndian.Uint64(data[0:8])
	a.Balance.SetBytes(data[8:40])
	copy(a.CodeHash[:], data[40:72])
	a.Incarnation = binary.BigEndian.Uint64(data[72:80])
	return a, nil
}
