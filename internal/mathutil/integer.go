// Copyright 2017 The go-ethereum Authors
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

// Package mathutil holds small integer helpers shared by the chunk pool's
// capacity arithmetic and the trie codec's spare-pages stamp bit budget.
package mathutil

import (
	"math/bits"
)

// SafeAdd returns x+y and whether the addition overflowed. Used by
// chunkpool's append/read bounds checks so a huge caller-supplied length
// can't wrap a cursor comparison around instead of tripping it.
func SafeAdd(x, y uint64) (uint64, bool) {
	sum, carryOut := bits.Add64(x, y, 0)
	return sum, carryOut != 0
}

// CeilDiv returns ceil(x/y), or 0 if y is 0. Used by the trie codec to turn
// a node's encoded byte length into a device-page count.
func CeilDiv(x, y int) int {
	if y == 0 {
		return 0
	}
	return (x + y - 1) / y
}

// FitsBits reports whether v fits in the given number of unsigned bits.
// Used by chunkpool's Offset.Pack to confirm the spare-pages stamp (15 bits)
// and the in-chunk page index it shares an offset word with stay within
// budget.
func FitsBits(v uint64, bitWidth uint) bool {
	if bitWidth >= 64 {
		return true
	}
	return v < (uint64(1) << bitWidth)
}
