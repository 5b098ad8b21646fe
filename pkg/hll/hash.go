// Copyright 2025 ZapFS Authors
// SPDX-License-Identifier: Apache-2.0

package hll

import (
	"fmt"

	"github.com/cespare/xxhash/v2"
	"github.com/spaolacci/murmur3"
)

// HashFunction maps members to the 32-bit hash used for bucket and rank
// derivation, and counter keys to the 64-bit hash the backend stores them
// under. Implementations must be deterministic for the lifetime of the
// stored data.
type HashFunction interface {
	MemberHash(member []byte) uint32
	KeyHash(key []byte) uint64
}

// Murmur3 hashes with MurmurHash3 (x86_32 for members, x64_128 truncated to
// 64 bits for keys).
type Murmur3 struct{}

func (Murmur3) MemberHash(member []byte) uint32 { return murmur3.Sum32(member) }
func (Murmur3) KeyHash(key []byte) uint64       { return murmur3.Sum64(key) }

// XXHash hashes with xxHash64; member hashes take the high 32 bits.
type XXHash struct{}

func (XXHash) MemberHash(member []byte) uint32 { return uint32(xxhash.Sum64(member) >> 32) }
func (XXHash) KeyHash(key []byte) uint64       { return xxhash.Sum64(key) }

// Hash function names accepted by HashByName.
const (
	HashMurmur3 = "murmur3"
	HashXXHash  = "xxhash"
)

// HashByName resolves a configured hash function name. An empty name selects murmur3.
func HashByName(name string) (HashFunction, error) {
	switch name {
	case "", HashMurmur3:
		return Murmur3{}, nil
	case HashXXHash:
		return XXHash{}, nil
	default:
		return nil, fmt.Errorf("unknown hash function: %q", name)
	}
}
