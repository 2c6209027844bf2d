package config

import (
	"time"

	"github.com/spf13/viper"
)

const (
	DefaultListenAddress = "0.0.0.0:8080"

	DefaultLoggingFormat        = "text"
	DefaultLoggingLevel         = "INFO"
	DefaultLoggingOutput        = "-"
	DefaultLoggingFileMaxSizeMB = 100
	DefaultLoggingFilesKeep     = 3
	DefaultAuditLogLevel        = "DEBUG"

	DefaultUploadMaxBlockBytes     = 100 << 20
	DefaultUploadAppendBufferBytes = 1 << 20
	DefaultUploadStagingTTL        = 24 * time.Hour
	DefaultUploadJanitorInterval   = time.Hour

	DefaultBlockstoreType      = "local"
	DefaultBlockstoreLocalPath = "~/largefiles/data"
	DefaultBlockstoreS3Region  = "us-east-1"
	DefaultAzureTryTimeout     = 10 * time.Minute

	DefaultClientEndpoint    = "http://localhost:8080"
	DefaultClientUnitSize    = 10 << 20
	DefaultClientConcurrency = 10
	DefaultClientBufferSize  = 1 << 20
	DefaultClientTimeout     = time.Hour
)

const (
	ListenAddressKey = "listen_address"

	LoggingFormatKey        = "logging.format"
	LoggingLevelKey         = "logging.level"
	LoggingOutputKey        = "logging.output"
	LoggingFileMaxSizeMBKey = "logging.file_max_size_mb"
	LoggingFilesKeepKey     = "logging.files_keep"
	LoggingAuditLogLevelKey = "logging.audit_log_level"

	UploadMaxBodyBytesKey      = "upload.max_body_bytes"
	UploadMaxBlockBytesKey     = "upload.max_block_bytes"
	UploadAppendBufferBytesKey = "upload.append_buffer_bytes"
	UploadStagingTTLKey        = "upload.staging_ttl"
	UploadJanitorIntervalKey   = "upload.janitor_interval"

	BlockstoreTypeKey      = "blockstore.type"
	BlockstoreLocalPathKey = "blockstore.local.path"

	BlockstoreAzureStorageAccountKey   = "blockstore.azure.storage_account"
	BlockstoreAzureStorageAccessKeyKey = "blockstore.azure.storage_access_key"
	BlockstoreAzureContainerKey        = "blockstore.azure.container"
	BlockstoreAzureEndpointKey         = "blockstore.azure.endpoint"
	BlockstoreAzureTryTimeoutKey       = "blockstore.azure.try_timeout"

	BlockstoreS3BucketKey          = "blockstore.s3.bucket"
	BlockstoreS3RegionKey          = "blockstore.s3.region"
	BlockstoreS3EndpointKey        = "blockstore.s3.endpoint"
	BlockstoreS3ForcePathStyleKey  = "blockstore.s3.force_path_style"
	BlockstoreS3PrefixKey          = "blockstore.s3.prefix"
	BlockstoreS3AccessKeyIDKey     = "blockstore.s3.access_key_id"
	BlockstoreS3SecretAccessKeyKey = "blockstore.s3.secret_access_key"

	BlockstoreMinIOEndpointKey        = "blockstore.minio.endpoint"
	BlockstoreMinIOAccessKeyIDKey     = "blockstore.minio.access_key_id"
	BlockstoreMinIOSecretAccessKeyKey = "blockstore.minio.secret_access_key"
	BlockstoreMinIOBucketKey          = "blockstore.minio.bucket"
	BlockstoreMinIORegionKey          = "blockstore.minio.region"
	BlockstoreMinIOUseSSLKey          = "blockstore.minio.use_ssl"
	BlockstoreMinIOPrefixKey          = "blockstore.minio.prefix"

	ClientEndpointKey    = "client.endpoint"
	ClientUnitSizeKey    = "client.unit_size"
	ClientConcurrencyKey = "client.concurrency"
	ClientBufferSizeKey  = "client.buffer_size"
	ClientTimeoutKey     = "client.timeout"
)

// keys without a meaningful default still need registering, otherwise viper does not bind them from the
// environment during Unmarshal.
var emptyDefaultKeys = []string{
	UploadMaxBodyBytesKey,
	BlockstoreAzureStorageAccountKey,
	BlockstoreAzureStorageAccessKeyKey,
	BlockstoreAzureContainerKey,
	BlockstoreAzureEndpointKey,
	BlockstoreS3BucketKey,
	BlockstoreS3EndpointKey,
	BlockstoreS3ForcePathStyleKey,
	BlockstoreS3PrefixKey,
	BlockstoreS3AccessKeyIDKey,
	BlockstoreS3SecretAccessKeyKey,
	BlockstoreMinIOEndpointKey,
	BlockstoreMinIOAccessKeyIDKey,
	BlockstoreMinIOSecretAccessKeyKey,
	BlockstoreMinIOBucketKey,
	BlockstoreMinIORegionKey,
	BlockstoreMinIOUseSSLKey,
	BlockstoreMinIOPrefixKey,
}

func setDefaults() {
	for _, key := range emptyDefaultKeys {
		viper.SetDefault(key, nil)
	}

	viper.SetDefault(ListenAddressKey, DefaultListenAddress)

	viper.SetDefault(LoggingFormatKey, DefaultLoggingFormat)
	viper.SetDefault(LoggingLevelKey, DefaultLoggingLevel)
	viper.SetDefault(LoggingOutputKey, DefaultLoggingOutput)
	viper.SetDefault(LoggingFileMaxSizeMBKey, DefaultLoggingFileMaxSizeMB)
	viper.SetDefault(LoggingFilesKeepKey, DefaultLoggingFilesKeep)
	viper.SetDefault(LoggingAuditLogLevelKey, DefaultAuditLogLevel)

	viper.SetDefault(UploadMaxBlockBytesKey, DefaultUploadMaxBlockBytes)
	viper.SetDefault(UploadAppendBufferBytesKey, DefaultUploadAppendBufferBytes)
	viper.SetDefault(UploadStagingTTLKey, DefaultUploadStagingTTL)
	viper.SetDefault(UploadJanitorIntervalKey, DefaultUploadJanitorInterval)

	viper.SetDefault(BlockstoreTypeKey, DefaultBlockstoreType)
	viper.SetDefault(BlockstoreLocalPathKey, DefaultBlockstoreLocalPath)
	viper.SetDefault(BlockstoreS3RegionKey, DefaultBlockstoreS3Region)
	viper.SetDefault(BlockstoreAzureTryTimeoutKey, DefaultAzureTryTimeout)

	viper.SetDefault(ClientEndpointKey, DefaultClientEndpoint)
	viper.SetDefault(ClientUnitSizeKey, DefaultClientUnitSize)
	viper.SetDefault(ClientConcurrencyKey, DefaultClientConcurrency)
	viper.SetDefault(ClientBufferSizeKey, DefaultClientBufferSize)
	viper.SetDefault(ClientTimeoutKey, DefaultClientTimeout)
}
