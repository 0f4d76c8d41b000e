// Copyright 2015 The go-ethereum Authors
// (original work)
// Copyright 2024 The Erigon Authors
// (modifications)
// This file is part of Erigon.
//
// Erigon is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// Erigon is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with Erigon. If not, see <http://www.gnu.org/licenses/>.

// Package statetest provides a JSON-driven pre/post-state harness for the
// storage engine, adapted from tests/state_test_util.go's stJSON/
// stPostState/MakePreState shape. Unlike the teacher's version this harness
// drives state.BlockState's account/storage mutations directly and asserts
// the resulting committed root hash — it does not execute a transaction
// through an EVM, since the interpreter is explicitly out of scope (spec.md
// §1's non-goals).
package statetest

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/holiman/uint256"
	"golang.org/x/crypto/sha3"

	"github.com/erigontech/monadstate/state"
	"github.com/erigontech/monadstate/trie"
)

// GenesisAccount is one pre-state account entry, mirroring go-ethereum's
// core.GenesisAccount JSON shape (the same shape tests/state_test_util.go's
// types.GenesisAlloc carries).
type GenesisAccount struct {
	Balance string            `json:"balance"`
	Nonce   uint64            `json:"nonce"`
	Code    string            `json:"code"`
	Storage map[string]string `json:"storage"`
}

// PreState is the JSON pre-state block: address (hex) -> account.
type PreState map[string]GenesisAccount

// Case is one end-to-end scenario: a pre-state, a block version to commit
// at, and the expected resulting root hash (hex, empty string meaning "the
// trie is expected to be empty/nil").
type Case struct {
	Pre         PreState `json:"pre"`
	Version     uint64   `json:"version"`
	ExpectedHex string   `json:"expectedRootHash"`
}

// ParseCase unmarshals a JSON-encoded Case, the format §8's concrete
// end-to-end scenarios are expressed in for table-driven tests.
func ParseCase(data []byte) (*Case, error) {
	var c Case
	if err := json.Unmarshal(data, &c); err != nil {
		return nil, err
	}
	return &c, nil
}

func parseAddress(s string) (state.Address, error) {
	var a state.Address
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return a, err
	}
	if len(b) != len(a) {
		return a, fmt.Errorf("statetest: address %q has %d bytes, want %d", s, len(b), len(a))
	}
	copy(a[:], b)
	return a, nil
}

func parseHash(s string) (state.Hash, error) {
	var h state.Hash
	b, err := hex.DecodeString(strings.TrimPrefix(s, "0x"))
	if err != nil {
		return h, err
	}
	copy(h[32-len(b):], b)
	return h, nil
}

func parseBalance(s string) (*uint256.Int, error) {
	if s == "" {
		return new(uint256.Int), nil
	}
	v, err := uint256.FromHex(s)
	if err == nil {
		return v, nil
	}
	var dec uint256.Int
	if err := dec.SetFromDecimal(s); err != nil {
		return nil, fmt.Errorf("statetest: invalid balance %q: %w", s, err)
	}
	return &dec, nil
}

// MakePreState loads every account and storage slot in pre into a fresh
// BlockState rooted at nil (empty trie), mirroring
// tests/state_test_util.go's MakePreState bootstrap but targeting this
// engine's BlockState instead of a full IntraBlockState/EVM-backed store.
func MakePreState(ctx *trie.Context, pre PreState) (*state.BlockState, error) {
	bs := state.NewBlockState(ctx, nil)
	for addrHex, acct := range pre {
		addr, err := parseAddress(addrHex)
		if err != nil {
			return nil, err
		}
		balance, err := parseBalance(acct.Balance)
		if err != nil {
			return nil, err
		}
		a := state.NewAccount()
		a.Nonce = acct.Nonce
		a.Balance = balance
		if err := bs.WriteAccount(addr, a); err != nil {
			return nil, err
		}
		if acct.Code != "" {
			code, err := hex.DecodeString(strings.TrimPrefix(acct.Code, "0x"))
			if err != nil {
				return nil, err
			}
			codeHash := codeHashOf(code)
			if err := bs.SetCode(addr, code, codeHash); err != nil {
				return nil, err
			}
		}
		for k, v := range acct.Storage {
			key, err := parseHash(k)
			if err != nil {
				return nil, err
			}
			val, err := parseHash(v)
			if err != nil {
				return nil, err
			}
			if err := bs.WriteStorage(addr, key, val); err != nil {
				return nil, err
			}
		}
	}
	return bs, nil
}

func codeHashOf(code []byte) state.Hash {
	if len(code) == 0 {
		return state.EmptyCodeHash
	}
	var h state.Hash
	d := sha3.NewLegacyKeccak256()
	d.Write(code)
	copy(h[:], d.Sum(nil))
	return h
}

// Run drives c end-to-end: builds the pre-state, commits it at c.Version,
// and compares the resulting account-trie root hash against
// c.ExpectedHex. An empty ExpectedHex asserts the committed root is nil
// (the empty-trie case).
func Run(c *Case) error {
	ctx := trie.NewContext()
	bs, err := MakePreState(ctx, c.Pre)
	if err != nil {
		return err
	}
	root, err := bs.Commit(c.Version)
	if err != nil {
		return err
	}

	got := trie.RootHash(root, trie.NewAccountStateMachine())
	if c.ExpectedHex == "" {
		if got != nil {
			return fmt.Errorf("statetest: expected empty root, got %x", got)
		}
		return nil
	}
	want, err := hex.DecodeString(strings.TrimPrefix(c.ExpectedHex, "0x"))
	if err != nil {
		return fmt.Errorf("statetest: invalid expectedRootHash %q: %w", c.ExpectedHex, err)
	}
	if !bytesEqual(got, want) {
		return fmt.Errorf("statetest: root hash mismatch: got %x, want %x", got, want)
	}
	return nil
}

func bytesEqual(a, b []byte) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}
