// Package state stages per-transaction state deltas against a single
// in-memory block view and commits them into the versioned MPT (spec
// component C6). Grounded on tests/state_test_util.go's pre/post-state
// bookkeeping for the Account shape and on core/state's dirty-journal idea
// for the read-before-write discipline AccountDelta.Initial captures,
// re-expressed against this module's own trie engine instead of a full EVM
// state database.
package state

import (
	"github.com/holiman/uint256"
	"github.com/pkg/errors"

	"github.com/erigontech/monadstate/chunkpool"
	"github.com/erigontech/monadstate/internal/chainconfig"
	"github.com/erigontech/monadstate/trie"
)

// RootSink durably records a block's committed root pointer in the cnv
// ring (§6.2's write_new_root_node). BlockState.Commit calls it only when
// configured; a nil RootSink runs the engine purely in memory, the mode
// every in-package test uses.
type RootSink interface {
	AppendRoot(cnvChunkID uint32, entry chunkpool.RootEntry) error
}

func addrPath(addr Address) trie.Path { return trie.KeybytesToNibbles(addr[:]) }
func slotPath(key Hash) trie.Path     { return trie.KeybytesToNibbles(key[:]) }

// BlockState is the per-block aggregate: the trie root the block started
// from, plus every transaction delta merged into it so far (§4.6).
type BlockState struct {
	ctx *trie.Context
	sm  trie.StateMachine

	root  trie.Node
	delta *Delta

	rootSink   RootSink
	cnvChunkID uint32

	chainConfig *chainconfig.Config
	header      *chainconfig.Header
}

// SetRootSink wires sink to receive this BlockState's committed root
// pointers, appended to the cnv chunk cnvChunkID. Leaving it unset runs
// Commit purely in memory, without touching durable storage.
func (bs *BlockState) SetRootSink(sink RootSink, cnvChunkID uint32) {
	bs.rootSink = sink
	bs.cnvChunkID = cnvChunkID
}

// SetHeaderValidation wires config and header so Commit gates the fold on
// chainconfig.ValidateHeader's EIP-4844 blob-gas field presence/absence
// check before building the UpdateList — the commit-path gate spec.md §1's
// ambient blob-gas concern requires (see DESIGN.md's internal/chainconfig
// entry). Leaving it unset
// skips header validation, the mode every in-package test uses.
func (bs *BlockState) SetHeaderValidation(config *chainconfig.Config, header *chainconfig.Header) {
	bs.chainConfig = config
	bs.header = header
}

// NewBlockState opens a block-staging view rooted at the previously
// committed account trie root (nil for an empty state).
func NewBlockState(ctx *trie.Context, root trie.Node) *BlockState {
	return &BlockState{ctx: ctx, sm: trie.NewAccountStateMachine(), root: root, delta: NewDelta()}
}

// Root returns the account trie root this BlockState currently reads
// against (the last committed root, until Commit advances it).
func (bs *BlockState) Root() trie.Node { return bs.root }

func (bs *BlockState) readCommittedAccount(addr Address) (*Account, error) {
	leaf, found, err := trie.GetLeaf(bs.root, addrPath(addr))
	if err != nil || !found {
		return nil, err
	}
	return DecodeAccount(leaf.Value)
}

func (bs *BlockState) readCommittedStorage(addr Address, key Hash) (Hash, error) {
	var zero Hash
	leaf, found, err := trie.GetLeaf(bs.root, addrPath(addr))
	if err != nil || !found || leaf.Next == nil {
		return zero, err
	}
	sub := leaf.Next.Cached()
	if sub == nil {
		return zero, errors.New("state: storage subtrie not resident in memory")
	}
	data, found, err := trie.Get(sub, slotPath(key))
	if err != nil || !found {
		return zero, err
	}
	var v Hash
	copy(v[32-len(data):], data)
	return v, nil
}

// ReadAccount returns the current view of addr, folding bs.delta over the
// committed trie (§4.6's read_account).
func (bs *BlockState) ReadAccount(addr Address) (*Account, error) {
	if a, ok := bs.delta.Accounts[addr]; ok {
		return a.Final, nil
	}
	return bs.readCommittedAccount(addr)
}

// ReadStorage returns the current view of (addr, key), respecting the
// delta's recorded initial/current distinction (§4.6's read_storage).
func (bs *BlockState) ReadStorage(addr Address, key Hash) (Hash, error) {
	if a, ok := bs.delta.Accounts[addr]; ok {
		if s, ok := a.Storage[key]; ok {
			return s.Current, nil
		}
	}
	return bs.readCommittedStorage(addr, key)
}

func (bs *BlockState) ensureAccount(addr Address) (*AccountDelta, error) {
	if a, ok := bs.delta.Accounts[addr]; ok {
		return a, nil
	}
	initial, err := bs.readCommittedAccount(addr)
	if err != nil {
		return nil, err
	}
	a := bs.delta.account(addr)
	a.Initial = initial
	a.Final = initial.clone()
	return a, nil
}

// WriteAccount sets addr's account fields.
func (bs *BlockState) WriteAccount(addr Address, acct *Account) error {
	a, err := bs.ensureAccount(addr)
	if err != nil {
		return err
	}
	a.Final = acct
	return nil
}

// WriteStorage sets the slot key of addr to value.
func (bs *BlockState) WriteStorage(addr Address, key, value Hash) error {
	a, err := bs.ensureAccount(addr)
	if err != nil {
		return err
	}
	s, ok := a.Storage[key]
	if !ok {
		initial, err := bs.readCommittedStorage(addr, key)
		if err != nil {
			return err
		}
		s = &SlotDelta{Initial: initial}
		a.Storage[key] = s
	}
	s.Current = value
	return nil
}

// SetCode records newly deployed code for addr and bumps the account's
// Incarnation counter. It does not wipe a prior storage subtrie under the
// same address: Commit requests that wipe (I3) only for an account
// selfdestructed in an earlier transaction.
func (bs *BlockState) SetCode(addr Address, code []byte, codeHash Hash) error {
	a, err := bs.ensureAccount(addr)
	if err != nil {
		return err
	}
	if a.Final == nil {
		a.Final = NewAccount()
	}
	a.Final.CodeHash = codeHash
	a.Final.Incarnation++
	a.Code = code
	return nil
}

// SelfDestruct marks addr destroyed. createdThisTx distinguishes the two
// policies §4.6 calls out: same-transaction creation-and-destruction
// deletes the account outright; a later-transaction selfdestruct
// (Cancun-style) retains the account but zeroes its balance.
func (bs *BlockState) SelfDestruct(addr Address, createdThisTx bool) error {
	a, err := bs.ensureAccount(addr)
	if err != nil {
		return err
	}
	a.SelfDestructed = true
	a.CreatedThisTx = a.CreatedThisTx || createdThisTx
	if createdThisTx {
		a.Final = nil
		return nil
	}
	if a.Final != nil {
		zeroed := a.Final.clone()
		zeroed.Balance = new(uint256.Int)
		a.Final = zeroed
	}
	return nil
}

// CanMerge reports whether tx's recorded reads are still consistent with
// this block's state as merged so far (§4.6's can_merge). Account-only
// changes on different addresses never conflict; storage conflicts are
// per-slot, and an observation that happens to still match the latest
// value is never a conflict even if a write occurred in between.
func (bs *BlockState) CanMerge(tx *Delta) bool {
	for _, addr := range tx.Addresses() {
		ad := tx.Accounts[addr]
		merged, ok := bs.delta.Accounts[addr]
		if !ok {
			continue
		}
		if !accountsEqual(merged.Final, ad.Initial) {
			return false
		}
		for slot, sd := range ad.Storage {
			msd, ok := merged.Storage[slot]
			if ok && msd.Current != sd.Initial {
				return false
			}
		}
	}
	return true
}

// Merge folds tx into the block if CanMerge holds, returning false without
// modifying state otherwise (§4.6's merge).
func (bs *BlockState) Merge(tx *Delta) bool {
	if !bs.CanMerge(tx) {
		return false
	}
	for _, addr := range tx.Addresses() {
		ad := tx.Accounts[addr]
		existing, ok := bs.delta.Accounts[addr]
		if !ok {
			existing = bs.delta.account(addr)
			existing.Initial = ad.Initial
		}
		existing.Final = ad.Final
		existing.SelfDestructed = existing.SelfDestructed || ad.SelfDestructed
		existing.CreatedThisTx = existing.CreatedThisTx || ad.CreatedThisTx
		if ad.Code != nil {
			existing.Code = ad.Code
		}
		for slot, sd := range ad.Storage {
			es, ok := existing.Storage[slot]
			if !ok {
				es = &SlotDelta{Initial: sd.Initial}
				existing.Storage[slot] = es
			}
			es.Current = sd.Current
		}
	}
	return true
}

func storageValueBytes(v Hash) []byte {
	i := 0
	for i < len(v) && v[i] == 0 {
		i++
	}
	if i == len(v) {
		return nil
	}
	return v[i:]
}

// Commit builds the MPT UpdateList from every merged delta and invokes the
// update engine, attaching storage subtries via Update.Next (§4.6's
// commit). The block's staged delta is cleared and the new root becomes
// the base for subsequent reads.
func (bs *BlockState) Commit(version uint64) (trie.Node, error) {
	if bs.chainConfig != nil {
		if bs.header == nil {
			return nil, errors.New("state: chain config set without a header to validate")
		}
		if err := chainconfig.ValidateHeader(bs.chainConfig, bs.header); err != nil {
			return nil, errors.Wrap(err, "state: header validation")
		}
	}

	addrs := bs.delta.Addresses()
	updates := make(trie.UpdateList, 0, len(addrs))

	for _, addr := range addrs {
		ad := bs.delta.Accounts[addr]
		key := addrPath(addr)

		if ad.Final == nil {
			updates = append(updates, &trie.Update{Key: key, Value: nil})
			continue
		}

		var next trie.UpdateList
		for slot, sd := range ad.Storage {
			if sd.Current == sd.Initial {
				continue
			}
			next = append(next, &trie.Update{Key: slotPath(slot), Value: storageValueBytes(sd.Current)})
		}

		if accountsEqual(ad.Initial, ad.Final) && len(next) == 0 && !ad.SelfDestructed {
			continue
		}

		updates = append(updates, &trie.Update{
			Key:   key,
			Value: EncodeAccount(ad.Final),
			Next:  next,
			// A later-transaction selfdestruct zeroes the balance but keeps
			// the account; its storage subtrie is conceptually superseded
			// (I3), since post-Cancun reads of that account's storage must
			// no longer observe pre-destruct slots.
			Incarnation: ad.SelfDestructed && !ad.CreatedThisTx,
		})
	}

	newRoot, err := trie.Upsert(bs.ctx, version, bs.sm, bs.root, updates, true)
	if err != nil {
		return nil, err
	}

	if bs.rootSink != nil {
		offset, err := trie.PersistRoot(bs.ctx, bs.sm, newRoot)
		if err != nil {
			return nil, err
		}
		if err := bs.rootSink.AppendRoot(bs.cnvChunkID, chunkpool.RootEntry{
			BlockNumber: version,
			RootOffset:  offset,
			Version:     version,
		}); err != nil {
			return nil, err
		}
	}

	bs.root = newRoot
	bs.delta = NewDelta()
	return newRoot, nil
}
