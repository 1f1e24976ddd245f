package common

import (
	"encoding/binary"

	"golang.org/x/crypto/blake2b"
	"golang.org/x/crypto/sha3"
)

// Uint64ToBytes encodes big-endian, matching the on-chain integer layout.
func Uint64ToBytes(val uint64) []byte {
	bytes := make([]byte, 8)
	binary.BigEndian.PutUint64(bytes, val)
	return bytes
}

func BytesToUint64(data []byte) uint64 {
	if len(data) < 8 {
		panic("BytesToUint64: byte slice too short")
	}
	return binary.BigEndian.Uint64(data)
}

func Blake2Hash(data ...[]byte) Hash {
	h, _ := blake2b.New256(nil)
	for _, d := range data {
		h.Write(d)
	}
	return BytesToHash(h.Sum(nil))
}

func Keccak256(data ...[]byte) Hash {
	hash := sha3.NewLegacyKeccak256()
	for _, d := range data {
		hash.Write(d)
	}
	h := hash.Sum(nil)
	return BytesToHash(h)
}
