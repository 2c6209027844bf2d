package factory_test

import (
	"context"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/config"
	"github.com/stefando/largeFileUpload/internal/storage/factory"
)

func TestBuildBackend(t *testing.T) {
	ctx := context.Background()

	t.Run("mem", func(t *testing.T) {
		c := &config.Config{}
		c.Blockstore.Type = "mem"
		b, err := factory.BuildBackend(ctx, c)
		require.NoError(t, err)
		assert.NotNil(t, b.Append)
		assert.NotNil(t, b.Blocks)
		assert.NotNil(t, b.Purger)
	})

	t.Run("local", func(t *testing.T) {
		c := &config.Config{}
		c.Blockstore.Type = "local"
		c.Blockstore.Local.Path = filepath.Join(t.TempDir(), "data")
		b, err := factory.BuildBackend(ctx, c)
		require.NoError(t, err)
		require.NotNil(t, b.Append)
		require.NoError(t, b.Append.EnsureExists(ctx, "probe.bin"))
		assert.FileExists(t, filepath.Join(c.Blockstore.Local.Path, "probe.bin"))
	})

	t.Run("unknown", func(t *testing.T) {
		c := &config.Config{}
		c.Blockstore.Type = "tape"
		_, err := factory.BuildBackend(ctx, c)
		require.ErrorIs(t, err, config.ErrUnknownBlockstore)
	})

	t.Run("s3_without_bucket", func(t *testing.T) {
		c := &config.Config{}
		c.Blockstore.Type = "s3"
		_, err := factory.BuildBackend(ctx, c)
		require.Error(t, err)
	})
}
