package config_test

import (
	"strings"
	"testing"
	"time"

	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/config"
)

func newConfig(t *testing.T, values map[string]any) *config.Config {
	t.Helper()
	viper.Reset()
	t.Cleanup(viper.Reset)
	for k, v := range values {
		viper.Set(k, v)
	}
	c, err := config.NewConfig()
	require.NoError(t, err)
	return c
}

func TestNewConfig_Defaults(t *testing.T) {
	c := newConfig(t, nil)

	assert.Equal(t, config.DefaultListenAddress, c.ListenAddress)
	assert.Equal(t, []string{"-"}, c.Logging.Output)
	assert.Equal(t, "local", c.Blockstore.Type)
	assert.EqualValues(t, 100<<20, c.Upload.MaxBlockBytes)
	assert.Equal(t, 1<<20, c.Upload.AppendBufferBytes)
	assert.Equal(t, 24*time.Hour, c.Upload.StagingTTL)
	assert.Equal(t, time.Hour, c.Upload.JanitorInterval)
	assert.Equal(t, 10<<20, c.Client.UnitSize)
	assert.Equal(t, 10, c.Client.Concurrency)
	assert.Zero(t, c.Upload.MaxBodyBytes)
	require.NoError(t, c.Validate())
}

func TestNewConfig_Overrides(t *testing.T) {
	c := newConfig(t, map[string]any{
		config.BlockstoreTypeKey:             "s3",
		config.BlockstoreS3BucketKey:         "uploads",
		config.BlockstoreS3ForcePathStyleKey: true,
		config.UploadStagingTTLKey:           "90m",
		config.ClientConcurrencyKey:          4,
	})

	assert.Equal(t, "s3", c.Blockstore.Type)
	assert.Equal(t, 90*time.Minute, c.Upload.StagingTTL)
	assert.Equal(t, 4, c.Client.Concurrency)
	params := c.GetBlockAdapterS3Params()
	assert.Equal(t, "uploads", params.Bucket)
	assert.True(t, params.ForcePathStyle)
	assert.Equal(t, config.DefaultBlockstoreS3Region, params.Region)
	require.NoError(t, c.Validate())
}

func TestNewConfig_Environment(t *testing.T) {
	viper.Reset()
	t.Cleanup(viper.Reset)
	viper.SetEnvPrefix("LARGEFILES")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()
	t.Setenv("LARGEFILES_BLOCKSTORE_TYPE", "azure")
	t.Setenv("LARGEFILES_BLOCKSTORE_AZURE_CONTAINER", "uploads")

	c, err := config.NewConfig()
	require.NoError(t, err)
	assert.Equal(t, "azure", c.Blockstore.Type)
	assert.Equal(t, "uploads", c.GetBlockAdapterAzureParams().Container)
	require.NoError(t, c.Validate())
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name   string
		values map[string]any
		err    error
	}{
		{name: "mem", values: map[string]any{config.BlockstoreTypeKey: "mem"}},
		{name: "unknown_type", values: map[string]any{config.BlockstoreTypeKey: "tape"}, err: config.ErrUnknownBlockstore},
		{name: "s3_without_bucket", values: map[string]any{config.BlockstoreTypeKey: "s3"}, err: config.ErrMissingBucket},
		{name: "azure_without_container", values: map[string]any{config.BlockstoreTypeKey: "azure"}, err: config.ErrMissingContainer},
		{
			name:   "minio_without_endpoint",
			values: map[string]any{config.BlockstoreTypeKey: "minio", config.BlockstoreMinIOBucketKey: "b"},
			err:    config.ErrMissingMinIOEndpoint,
		},
		{name: "zero_unit_size", values: map[string]any{config.ClientUnitSizeKey: 0}, err: config.ErrInvalidUnitSize},
		{name: "zero_concurrency", values: map[string]any{config.ClientConcurrencyKey: 0}, err: config.ErrInvalidConcurrency},
		{name: "zero_append_buffer", values: map[string]any{config.UploadAppendBufferBytesKey: 0}, err: config.ErrInvalidBufferSize},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := newConfig(t, tt.values).Validate()
			if tt.err == nil {
				require.NoError(t, err)
				return
			}
			require.ErrorIs(t, err, tt.err)
			require.ErrorIs(t, err, config.ErrBadConfiguration)
		})
	}
}

func TestGetBlockAdapterLocalPath_ExpandsHome(t *testing.T) {
	c := newConfig(t, map[string]any{config.BlockstoreLocalPathKey: "/var/lib/largefiles"})
	p, err := c.GetBlockAdapterLocalPath()
	require.NoError(t, err)
	assert.Equal(t, "/var/lib/largefiles", p)

	c = newConfig(t, nil)
	p, err = c.GetBlockAdapterLocalPath()
	require.NoError(t, err)
	assert.NotContains(t, p, "~")
}

func TestToLoggerFields_OmitsSecrets(t *testing.T) {
	c := newConfig(t, map[string]any{config.BlockstoreS3SecretAccessKeyKey: "hunter2"})
	for _, v := range c.ToLoggerFields() {
		assert.NotEqual(t, "hunter2", v)
	}
}
