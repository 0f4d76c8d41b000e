package trie

// Kind tags which logical trie a StateMachine instance drives. This is the
// one concept worth keeping from erigon's kv.Domain enum (AccountsDomain,
// StorageDomain, ...) after dropping the rest of its MDBX table catalog —
// see DESIGN.md's "Dropped teacher code" entry for erigon-lib/kv/tables.go.
type Kind uint8

const (
	KindAccount Kind = iota
	KindStorage
)

// StateMachine is the polymorphic callback object the update engine
// consults per node (§4.4.4, §9's "replace template/trait dispatch with a
// tagged-variant value"). The engine holds no static knowledge of which
// trie it updates; account and per-account-storage tries differ only in
// GetCompute and Cache.
type StateMachine interface {
	// Down is called when the recursion descends past nibble n.
	Down(nibble int)
	// Up is called when the recursion returns n levels.
	Up(n int)
	// Cache reports whether the in-memory copy of a node should be
	// retained after this pass rather than dropped.
	Cache() bool
	// Compact reports whether this pass participates in compaction.
	Compact() bool
	// AutoExpire reports whether this pass participates in expiration.
	AutoExpire() bool
	// IsVariableLength reports the "one-time insert only" mode of §4.4.2:
	// deletion and re-update of an existing key are errors.
	IsVariableLength() bool
	// GetCompute returns the hashing/child-data strategy for this trie.
	GetCompute() HashingStrategy
	// Kind identifies which logical trie this machine drives.
	Kind() Kind
}

// AccountStateMachine drives the top-level account trie: Keccak-256
// hashing, in-memory caching enabled (accounts are read far more often
// than written), participates in both compaction and expiration.
type AccountStateMachine struct {
	depth int
}

func NewAccountStateMachine() *AccountStateMachine { return &AccountStateMachine{} }

func (m *AccountStateMachine) Down(int)               { m.depth++ }
func (m *AccountStateMachine) Up(n int)                { m.depth -= n }
func (*AccountStateMachine) Cache() bool               { return true }
func (*AccountStateMachine) Compact() bool             { return true }
func (*AccountStateMachine) AutoExpire() bool          { return true }
func (*AccountStateMachine) IsVariableLength() bool    { return false }
func (*AccountStateMachine) GetCompute() HashingStrategy { return Keccak256Strategy{} }
func (*AccountStateMachine) Kind() Kind                { return KindAccount }

// StorageStateMachine drives a per-account storage subtrie. Caching is
// disabled by default: storage subtries vastly outnumber the account trie
// and are usually touched once per block, so retaining them in memory
// would dominate working-set size for little reuse benefit.
type StorageStateMachine struct {
	depth int
}

func NewStorageStateMachine() *StorageStateMachine { return &StorageStateMachine{} }

func (m *StorageStateMachine) Down(int)               { m.depth++ }
func (m *StorageStateMachine) Up(n int)                { m.depth -= n }
func (*StorageStateMachine) Cache() bool               { return false }
func (*StorageStateMachine) Compact() bool             { return true }
func (*StorageStateMachine) AutoExpire() bool          { return true }
func (*StorageStateMachine) IsVariableLength() bool    { return false }
func (*StorageStateMachine) GetCompute() HashingStrategy { return Keccak256Strategy{} }
func (*StorageStateMachine) Kind() Kind                { return KindStorage }
