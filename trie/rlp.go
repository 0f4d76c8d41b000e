package trie

// Minimal RLP-shaped encoder for the child-data blobs the hashing strategy
// emits (§4.3 field 6). No RLP library ships in the retrieved example pack
// as an importable module in its own right (erigon's own erigon-lib/rlp is
// not part of this fork's dependency surface); this hand-written subset —
// byte strings and lists only, matching the canonical Ethereum RLP shape
// used throughout the go-ethereum/erigon family — is the stdlib-only piece
// documented in DESIGN.md's grounding ledger.

// EncodeString RLP-encodes a byte string.
func EncodeString(b []byte) []byte {
	if len(b) == 1 && b[0] < 0x80 {
		return []byte{b[0]}
	}
	if len(b) < 56 {
		out := make([]byte, 0, len(b)+1)
		out = append(out, byte(0x80+len(b)))
		return append(out, b...)
	}
	lenBytes := uintToBytes(uint64(len(b)))
	out := make([]byte, 0, len(b)+1+len(lenBytes))
	out = append(out, byte(0xb7+len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, b...)
}

// EncodeList RLP-encodes items as a list.
func EncodeList(items [][]byte) []byte {
	var payload []byte
	for _, it := range items {
		payload = append(payload, it...)
	}
	if len(payload) < 56 {
		out := make([]byte, 0, len(payload)+1)
		out = append(out, byte(0xc0+len(payload)))
		return append(out, payload...)
	}
	lenBytes := uintToBytes(uint64(len(payload)))
	out := make([]byte, 0, len(payload)+1+len(lenBytes))
	out = append(out, byte(0xf7+len(lenBytes)))
	out = append(out, lenBytes...)
	return append(out, payload...)
}

func uintToBytes(v uint64) []byte {
	if v == 0 {
		return nil
	}
	var buf [8]byte
	i := 8
	for v > 0 {
		i--
		buf[i] = byte(v)
		v >>= 8
	}
	return buf[i:]
}
