package hashutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBlake3Hash(t *testing.T) {
	a := Blake3Hash([]byte("ply"))
	b := Blake3Hash([]byte("ply"))
	c := Blake3Hash([]byte("plz"))

	assert.Len(t, a, 64)
	assert.Equal(t, a, b)
	assert.NotEqual(t, a, c)
}

func TestSha3256(t *testing.T) {
	// sha3-256 of the empty string
	assert.Equal(t, "a7ffc6f8bf1ed76651c14756a061d662f580ff4de43b49fa82d80a4b80f8434a", Sha3256Hash(nil))
	assert.Len(t, Sha3256Sum([]byte("some key")), 32)
}
