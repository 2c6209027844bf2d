package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/mitchellh/go-homedir"
	"github.com/spf13/viper"

	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/storage"
	"github.com/stefando/largeFileUpload/internal/storage/azure"
	"github.com/stefando/largeFileUpload/internal/storage/minio"
	"github.com/stefando/largeFileUpload/internal/storage/s3"
)

var (
	ErrBadConfiguration     = errors.New("bad configuration")
	ErrUnknownBlockstore    = fmt.Errorf("%w: unknown blockstore type", ErrBadConfiguration)
	ErrInvalidUnitSize      = fmt.Errorf("%w: client.unit_size must be positive", ErrBadConfiguration)
	ErrInvalidConcurrency   = fmt.Errorf("%w: client.concurrency must be positive", ErrBadConfiguration)
	ErrInvalidBufferSize    = fmt.Errorf("%w: buffer sizes must be positive", ErrBadConfiguration)
	ErrMissingBucket        = fmt.Errorf("%w: blockstore bucket is required", ErrBadConfiguration)
	ErrMissingContainer     = fmt.Errorf("%w: blockstore.azure.container is required", ErrBadConfiguration)
	ErrMissingLocalPath     = fmt.Errorf("%w: blockstore.local.path is required", ErrBadConfiguration)
	ErrMissingMinIOEndpoint = fmt.Errorf("%w: blockstore.minio.endpoint is required", ErrBadConfiguration)
)

type Config struct {
	ListenAddress string `mapstructure:"listen_address"`

	Logging struct {
		Format        string   `mapstructure:"format"`
		Level         string   `mapstructure:"level"`
		Output        []string `mapstructure:"output"`
		FileMaxSizeMB int      `mapstructure:"file_max_size_mb"`
		FilesKeep     int      `mapstructure:"files_keep"`
		AuditLogLevel string   `mapstructure:"audit_log_level"`
	} `mapstructure:"logging"`

	Upload struct {
		// MaxBodyBytes caps a whole request body; 0 means unlimited.
		MaxBodyBytes      int64         `mapstructure:"max_body_bytes"`
		MaxBlockBytes     int64         `mapstructure:"max_block_bytes"`
		AppendBufferBytes int           `mapstructure:"append_buffer_bytes"`
		StagingTTL        time.Duration `mapstructure:"staging_ttl"`
		// JanitorInterval of 0 disables purging of stale staged blocks.
		JanitorInterval time.Duration `mapstructure:"janitor_interval"`
	} `mapstructure:"upload"`

	Blockstore struct {
		Type  string `mapstructure:"type"`
		Local struct {
			Path string `mapstructure:"path"`
		} `mapstructure:"local"`
		Azure struct {
			StorageAccount   string        `mapstructure:"storage_account"`
			StorageAccessKey string        `mapstructure:"storage_access_key"`
			Container        string        `mapstructure:"container"`
			Endpoint         string        `mapstructure:"endpoint"`
			TryTimeout       time.Duration `mapstructure:"try_timeout"`
		} `mapstructure:"azure"`
		S3 struct {
			Bucket          string `mapstructure:"bucket"`
			Region          string `mapstructure:"region"`
			Endpoint        string `mapstructure:"endpoint"`
			ForcePathStyle  bool   `mapstructure:"force_path_style"`
			Prefix          string `mapstructure:"prefix"`
			AccessKeyID     string `mapstructure:"access_key_id"`
			SecretAccessKey string `mapstructure:"secret_access_key"`
		} `mapstructure:"s3"`
		MinIO struct {
			Endpoint        string `mapstructure:"endpoint"`
			AccessKeyID     string `mapstructure:"access_key_id"`
			SecretAccessKey string `mapstructure:"secret_access_key"`
			Bucket          string `mapstructure:"bucket"`
			Region          string `mapstructure:"region"`
			UseSSL          bool   `mapstructure:"use_ssl"`
			Prefix          string `mapstructure:"prefix"`
		} `mapstructure:"minio"`
	} `mapstructure:"blockstore"`

	Client struct {
		Endpoint    string        `mapstructure:"endpoint"`
		UnitSize    int           `mapstructure:"unit_size"`
		Concurrency int           `mapstructure:"concurrency"`
		BufferSize  int           `mapstructure:"buffer_size"`
		Timeout     time.Duration `mapstructure:"timeout"`
	} `mapstructure:"client"`
}

// NewConfig registers defaults, applies logging settings and decodes everything viper has read so far.
func NewConfig() (*Config, error) {
	setDefaults()
	setupLogger()

	c := &Config{}
	if err := viper.Unmarshal(c); err != nil {
		return nil, err
	}
	return c, nil
}

func (c *Config) Validate() error {
	if c.Client.UnitSize <= 0 {
		return ErrInvalidUnitSize
	}
	if c.Client.Concurrency <= 0 {
		return ErrInvalidConcurrency
	}
	if c.Client.BufferSize <= 0 || c.Upload.AppendBufferBytes <= 0 || c.Upload.MaxBlockBytes <= 0 {
		return ErrInvalidBufferSize
	}
	switch c.Blockstore.Type {
	case storage.BlockstoreTypeMem:
	case storage.BlockstoreTypeLocal:
		if c.Blockstore.Local.Path == "" {
			return ErrMissingLocalPath
		}
	case storage.BlockstoreTypeAzure:
		if c.Blockstore.Azure.Container == "" {
			return ErrMissingContainer
		}
	case storage.BlockstoreTypeS3:
		if c.Blockstore.S3.Bucket == "" {
			return ErrMissingBucket
		}
	case storage.BlockstoreTypeMinIO:
		if c.Blockstore.MinIO.Bucket == "" {
			return ErrMissingBucket
		}
		if c.Blockstore.MinIO.Endpoint == "" {
			return ErrMissingMinIOEndpoint
		}
	default:
		return fmt.Errorf("%w: %q", ErrUnknownBlockstore, c.Blockstore.Type)
	}
	return nil
}

func (c *Config) GetBlockAdapterLocalPath() (string, error) {
	localPath := c.Blockstore.Local.Path
	path, err := homedir.Expand(localPath)
	if err != nil {
		return "", fmt.Errorf("parse blockstore location %s: %w", localPath, err)
	}
	return path, nil
}

func (c *Config) GetBlockAdapterAzureParams() azure.Params {
	return azure.Params{
		StorageAccount:   c.Blockstore.Azure.StorageAccount,
		StorageAccessKey: c.Blockstore.Azure.StorageAccessKey,
		Container:        c.Blockstore.Azure.Container,
		Endpoint:         c.Blockstore.Azure.Endpoint,
		TryTimeout:       c.Blockstore.Azure.TryTimeout,
	}
}

func (c *Config) GetBlockAdapterS3Params() s3.Params {
	return s3.Params{
		Bucket:          c.Blockstore.S3.Bucket,
		Region:          c.Blockstore.S3.Region,
		Endpoint:        c.Blockstore.S3.Endpoint,
		ForcePathStyle:  c.Blockstore.S3.ForcePathStyle,
		Prefix:          c.Blockstore.S3.Prefix,
		AccessKeyID:     c.Blockstore.S3.AccessKeyID,
		SecretAccessKey: c.Blockstore.S3.SecretAccessKey,
	}
}

func (c *Config) GetBlockAdapterMinIOParams() minio.Params {
	return minio.Params{
		Endpoint:        c.Blockstore.MinIO.Endpoint,
		AccessKeyID:     c.Blockstore.MinIO.AccessKeyID,
		SecretAccessKey: c.Blockstore.MinIO.SecretAccessKey,
		Bucket:          c.Blockstore.MinIO.Bucket,
		Region:          c.Blockstore.MinIO.Region,
		UseSSL:          c.Blockstore.MinIO.UseSSL,
		Prefix:          c.Blockstore.MinIO.Prefix,
	}
}

// ToLoggerFields returns the settings worth logging at startup. Credentials are never included.
func (c *Config) ToLoggerFields() logging.Fields {
	return logging.Fields{
		ListenAddressKey:           c.ListenAddress,
		LoggingFormatKey:           c.Logging.Format,
		LoggingLevelKey:            c.Logging.Level,
		UploadMaxBodyBytesKey:      c.Upload.MaxBodyBytes,
		UploadMaxBlockBytesKey:     c.Upload.MaxBlockBytes,
		UploadAppendBufferBytesKey: c.Upload.AppendBufferBytes,
		UploadStagingTTLKey:        c.Upload.StagingTTL.String(),
		UploadJanitorIntervalKey:   c.Upload.JanitorInterval.String(),
		BlockstoreTypeKey:          c.Blockstore.Type,
		ClientEndpointKey:          c.Client.Endpoint,
		ClientUnitSizeKey:          c.Client.UnitSize,
		ClientConcurrencyKey:       c.Client.Concurrency,
	}
}
