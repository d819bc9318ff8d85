package snapshot

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/nrnmpi/multisplit/pkg/config"
)

func TestValidate(t *testing.T) {
	t.Run("nil config", func(t *testing.T) {
		require.Error(t, Validate(nil))
	})

	t.Run("local requires path", func(t *testing.T) {
		require.Error(t, Validate(&config.StorageConfig{Type: "local"}))
	})

	t.Run("cos requires bucket region credentials", func(t *testing.T) {
		require.Error(t, Validate(&config.StorageConfig{Type: "cos"}))
		require.Error(t, Validate(&config.StorageConfig{Type: "cos", Bucket: "b", Region: "r"}))
		require.NoError(t, Validate(&config.StorageConfig{
			Type: "cos", Bucket: "b", Region: "r", SecretID: "id", SecretKey: "key",
		}))
	})

	t.Run("unknown type rejected", func(t *testing.T) {
		require.Error(t, Validate(&config.StorageConfig{Type: "s3"}))
	})
}

func TestNew_DefaultsToLocal(t *testing.T) {
	s, err := New(&config.StorageConfig{LocalPath: t.TempDir()})
	require.NoError(t, err)
	assert.IsType(t, &LocalStorage{}, s)
}
