package randutil

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRandomString(t *testing.T) {
	a, err := RandomString(32)
	require.NoError(t, err)
	b, err := RandomString(32)
	require.NoError(t, err)

	assert.Len(t, a, 43)
	assert.NotEqual(t, a, b)
}

func TestMaskString(t *testing.T) {
	tests := []struct {
		name   string
		secret string
		want   string
	}{
		{name: "long secret", secret: "sam3d-demo-key-2024", want: "sam3***********2024"},
		{name: "short secret is fully hidden", secret: "abc", want: "***"},
		{name: "empty", secret: "", want: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, MaskString(tt.secret, 4, 4))
		})
	}
}
