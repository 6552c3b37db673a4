package logger

import (
	"testing"

	"github.com/imagen-apex/apex/internal/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLogger(t *testing.T) {
	for _, env := range []string{"prod", "test", "dev"} {
		t.Run(env, func(t *testing.T) {
			l, err := NewLogger(&config.Config{Environment: env})
			require.NoError(t, err)
			assert.NotNil(t, l)
		})
	}
}

func TestInitAndGetLogger(t *testing.T) {
	l, err := InitLogger(&config.Config{Environment: "test"})
	require.NoError(t, err)
	assert.Same(t, l, GetLogger())
}
