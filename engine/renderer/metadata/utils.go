package metadata

import (
	"encoding/binary"
	"hash/fnv"
	"math"
)

const (
	InvalidIDUint64 uint64 = 18446744073709551615
	InvalidID       uint32 = 4294967295
	InvalidIDUint16 uint16 = 65535
	InvalidIDUint8  uint8  = 255
)

func GetAligned(operand, granularity uint64) uint64 {
	val := (operand + (granularity - 1)) &^ (granularity - 1)
	return val
}

/**
 * @brief Builds the canonical byte encoding of a description. Two descriptions
 * produce the same bytes if and only if their hashed fields are equal.
 */
type KeyBuilder struct {
	buf []byte
}

func (k *KeyBuilder) Uint8(v uint8) *KeyBuilder {
	k.buf = append(k.buf, v)
	return k
}

func (k *KeyBuilder) Bool(v bool) *KeyBuilder {
	if v {
		return k.Uint8(1)
	}
	return k.Uint8(0)
}

func (k *KeyBuilder) Uint32(v uint32) *KeyBuilder {
	k.buf = binary.LittleEndian.AppendUint32(k.buf, v)
	return k
}

func (k *KeyBuilder) Uint64(v uint64) *KeyBuilder {
	k.buf = binary.LittleEndian.AppendUint64(k.buf, v)
	return k
}

func (k *KeyBuilder) Float32(v float32) *KeyBuilder {
	return k.Uint32(math.Float32bits(v))
}

// Length prefixed so that adjacent fields cannot run into each other.
func (k *KeyBuilder) Bytes(v []byte) *KeyBuilder {
	k.Uint32(uint32(len(v)))
	k.buf = append(k.buf, v...)
	return k
}

func (k *KeyBuilder) String(v string) *KeyBuilder {
	k.Uint32(uint32(len(v)))
	k.buf = append(k.buf, v...)
	return k
}

func (k *KeyBuilder) Result() []byte {
	return k.buf
}

// HashKey returns the FNV-1a 64 hash of a canonical encoding.
func HashKey(canonical []byte) uint64 {
	hasher := fnv.New64a()
	hasher.Write(canonical)
	return hasher.Sum64()
}
