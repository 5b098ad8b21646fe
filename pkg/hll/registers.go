// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package hll

import (
	"encoding/binary"
	"fmt"
)

// Register layout. This is the persisted format: six 5-bit registers per
// 32-bit word, register i of a word at bits [5i, 5i+5). The top two bits of
// every word are unused. Changing any of these breaks previously stored
// sketches.
const (
	RegistersPerWord = 6
	RegisterBits     = 5
	RegisterMax      = 1<<RegisterBits - 1
	BytesPerWord     = 4

	registerMask uint32 = RegisterMax
)

// RegisterSet is a fixed number of 5-bit registers packed into 32-bit words.
//
// Not safe for concurrent mutation.
type RegisterSet struct {
	words []uint32
}

// wordsForCount returns the number of words needed to hold count registers.
func wordsForCount(count int) int {
	n := count / RegistersPerWord
	if count%RegistersPerWord != 0 {
		n++
	}
	if n == 0 {
		n = 1
	}
	return n
}

// NewRegisterSet allocates a zeroed set able to hold count registers.
func NewRegisterSet(count int) *RegisterSet {
	return &RegisterSet{words: make([]uint32, wordsForCount(count))}
}

// NewRegisterSetFromWords wraps an existing word slice. The slice is not copied.
func NewRegisterSetFromWords(words []uint32) *RegisterSet {
	return &RegisterSet{words: words}
}

// Size returns the number of words backing the set.
func (rs *RegisterSet) Size() int {
	return len(rs.words)
}

// Words exposes the underlying word slice.
func (rs *RegisterSet) Words() []uint32 {
	return rs.words
}

func locate(position int) (word int, shift uint) {
	word = position / RegistersPerWord
	shift = uint(RegisterBits * (position - word*RegistersPerWord))
	return word, shift
}

// Set overwrites the register at position. Values above RegisterMax are truncated
// to their low 5 bits.
func (rs *RegisterSet) Set(position int, value uint8) {
	w, shift := locate(position)
	v := uint32(value) & registerMask
	rs.words[w] = (rs.words[w] &^ (registerMask << shift)) | (v << shift)
}

// Get reads the register at position.
func (rs *RegisterSet) Get(position int) uint8 {
	w, shift := locate(position)
	return uint8((rs.words[w] >> shift) & registerMask)
}

// UpdateIfGreater stores value at position only if it is strictly greater
// than the current register. It reports whether the register changed.
func (rs *RegisterSet) UpdateIfGreater(position int, value uint8) bool {
	w, shift := locate(position)
	mask := registerMask << shift

	cur := uint64(rs.words[w] & mask)
	next := uint64(uint32(value)&registerMask) << shift
	if cur >= next {
		return false
	}
	rs.words[w] = (rs.words[w] &^ mask) | uint32(next)
	return true
}

// Merge replaces every register with max(rs[i], other[i]). Comparison is done
// per 5-bit field, never on whole words.
func (rs *RegisterSet) Merge(other *RegisterSet) error {
	if len(rs.words) != len(other.words) {
		return fmt.Errorf("%w: %d words vs %d words", ErrSizeMismatch, len(rs.words), len(other.words))
	}
	for i, a := range rs.words {
		b := other.words[i]
		if a == b {
			continue
		}
		var word uint32
		for j := 0; j < RegistersPerWord; j++ {
			mask := registerMask << uint(RegisterBits*j)
			x, y := a&mask, b&mask
			if x < y {
				x = y
			}
			word |= x
		}
		rs.words[i] = word
	}
	return nil
}

// Clone returns a deep copy.
func (rs *RegisterSet) Clone() *RegisterSet {
	words := make([]uint32, len(rs.words))
	copy(words, rs.words)
	return &RegisterSet{words: words}
}

// Equal reports whether both sets have identical words.
func (rs *RegisterSet) Equal(other *RegisterSet) bool {
	if len(rs.words) != len(other.words) {
		return false
	}
	for i := range rs.words {
		if rs.words[i] != other.words[i] {
			return false
		}
	}
	return true
}

// MarshalBinary encodes the set as big-endian 4-byte words in word order.
func (rs *RegisterSet) MarshalBinary() ([]byte, error) {
	return rs.Bytes(), nil
}

// Bytes is MarshalBinary without the error.
func (rs *RegisterSet) Bytes() []byte {
	out := make([]byte, len(rs.words)*BytesPerWord)
	for i, w := range rs.words {
		binary.BigEndian.PutUint32(out[i*BytesPerWord:], w)
	}
	return out
}

// UnmarshalBinary replaces the set's contents with the decoded blob.
func (rs *RegisterSet) UnmarshalBinary(data []byte) error {
	decoded, err := DecodeRegisterSet(data)
	if err != nil {
		return err
	}
	rs.words = decoded.words
	return nil
}

// DecodeRegisterSet is the inverse of Bytes.
func DecodeRegisterSet(data []byte) (*RegisterSet, error) {
	if len(data) == 0 || len(data)%BytesPerWord != 0 {
		return nil, fmt.Errorf("%w: length %d is not a positive multiple of %d", ErrMalformedRegisters, len(data), BytesPerWord)
	}
	words := make([]uint32, len(data)/BytesPerWord)
	for i := range words {
		words[i] = binary.BigEndian.Uint32(data[i*BytesPerWord:])
	}
	return &RegisterSet{words: words}, nil
}

// MergeBlobs merges two serialized register sets and returns the serialized
// result. Backends use this to implement their atomic merge.
func MergeBlobs(stored, incoming []byte) ([]byte, error) {
	a, err := DecodeRegisterSet(stored)
	if err != nil {
		return nil, fmt.Errorf("decode stored registers: %w", err)
	}
	b, err := DecodeRegisterSet(incoming)
	if err != nil {
		return nil, fmt.Errorf("decode incoming registers: %w", err)
	}
	if err := a.Merge(b); err != nil {
		return nil, err
	}
	return a.Bytes(), nil
}
