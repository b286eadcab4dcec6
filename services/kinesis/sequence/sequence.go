// Package sequence implements the codec described by the service's
// sequence-number scheme: client-visible values are opaque big-decimal
// strings, but internally they are a fixed tuple of (version, shard
// creation date, shard index, byte offset, sub-sequence, reserved bits)
// packed into a single big integer.
//
// The exact bit layout is an internal contract, not a reproduction of
// AWS's own (undocumented) layout: the only requirements are that
// Decode(Encode(n)) == n for every n carrying the current version (Encode
// always writes version 2 and Decode rejects any other), and that numeric
// ordering of the packed value agrees with ordering of (ShardIndex,
// ByteOffset, SubSequence).
package sequence

import (
	"fmt"
	"math/big"
)

// Number is the structured form of a sequence number.
type Number struct {
	Version uint8

	// ShardCreationDate identifies the shard generation this number was
	// minted for; it never changes once a shard is created.
	ShardCreationDate uint64

	// ShardIndex is the shard's monotonically increasing creation order
	// within its stream.
	ShardIndex uint32

	// ByteOffset is the cumulative size in bytes of every record appended
	// to the shard by earlier PutRecord/PutRecords calls; records of one
	// PutRecords batch on a shard share it.
	ByteOffset uint64

	// SubSequence disambiguates records that share a ByteOffset, which
	// happens when PutRecords appends a whole batch before any one of
	// its records' sizes are folded into the running offset.
	SubSequence uint32
}

const currentVersion = 2

const (
	bitsVersion    = 4
	bitsDate       = 44
	bitsShardIndex = 32
	bitsByteOffset = 64
	bitsSubSeq     = 32
	bitsReserved   = 7
)

func mask(bits uint) *big.Int {
	m := big.NewInt(1)
	m.Lsh(m, bits)
	return m.Sub(m, big.NewInt(1))
}

// Encode renders n as the decimal string a client sees.
func (n Number) Encode() string {
	result := new(big.Int)
	appendField := func(value uint64, bits uint) {
		result.Lsh(result, bits)
		field := new(big.Int).SetUint64(value)
		field.And(field, mask(bits))
		result.Or(result, field)
	}

	appendField(currentVersion, bitsVersion)
	appendField(n.ShardCreationDate, bitsDate)
	appendField(uint64(n.ShardIndex), bitsShardIndex)
	appendField(n.ByteOffset, bitsByteOffset)
	appendField(uint64(n.SubSequence), bitsSubSeq)
	appendField(0, bitsReserved)
	return result.String()
}

// Decode recovers the structured form of a sequence number produced by Encode.
func Decode(s string) (Number, error) {
	value, ok := new(big.Int).SetString(s, 10)
	if !ok || value.Sign() < 0 {
		return Number{}, fmt.Errorf("sequence: malformed sequence number %q", s)
	}

	extract := func(bits uint) uint64 {
		field := new(big.Int).And(value, mask(bits))
		value.Rsh(value, bits)
		return field.Uint64()
	}

	_ = extract(bitsReserved)
	subSeq := extract(bitsSubSeq)
	byteOffset := extract(bitsByteOffset)
	shardIndex := extract(bitsShardIndex)
	date := extract(bitsDate)
	ver := extract(bitsVersion)

	if value.Sign() != 0 {
		return Number{}, fmt.Errorf("sequence: %q has unexpected high-order bits", s)
	}
	if ver != currentVersion {
		return Number{}, fmt.Errorf("sequence: %q has unsupported version %d", s, ver)
	}

	return Number{
		Version:           uint8(ver),
		ShardCreationDate: date,
		ShardIndex:        uint32(shardIndex),
		ByteOffset:        byteOffset,
		SubSequence:       uint32(subSeq),
	}, nil
}

// Compare orders two numbers from the same shard generation by
// (ShardIndex, ByteOffset, SubSequence), which — by construction of Encode —
// agrees with ordering the two numbers as arbitrary-precision decimals.
func (n Number) Compare(other Number) int {
	switch {
	case n.ShardIndex != other.ShardIndex:
		return cmpUint64(uint64(n.ShardIndex), uint64(other.ShardIndex))
	case n.ByteOffset != other.ByteOffset:
		return cmpUint64(n.ByteOffset, other.ByteOffset)
	default:
		return cmpUint64(uint64(n.SubSequence), uint64(other.SubSequence))
	}
}

func cmpUint64(a, b uint64) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	default:
		return 0
	}
}

// CompareStrings decodes both sequence numbers and compares them
// numerically, matching the service's "compare as decimal" contract
// without being fooled by differing digit counts the way a raw
// lexicographic string compare would be.
func CompareStrings(a, b string) (int, error) {
	na, err := Decode(a)
	if err != nil {
		return 0, err
	}
	nb, err := Decode(b)
	if err != nil {
		return 0, err
	}
	return na.Compare(nb), nil
}
