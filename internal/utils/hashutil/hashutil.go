package hashutil

import (
	"encoding/hex"

	"golang.org/x/crypto/sha3"
	"lukechampine.com/blake3"
)

func Blake3Hash(data []byte) string {
	hash := blake3.Sum256(data)
	return hex.EncodeToString(hash[:])
}

// Sha3256Sum returns the raw digest, for fixed-length comparisons.
func Sha3256Sum(data []byte) []byte {
	hash := sha3.Sum256(data)
	return hash[:]
}

func Sha3256Hash(data []byte) string {
	return hex.EncodeToString(Sha3256Sum(data))
}
