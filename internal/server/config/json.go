package config

import (
	"encoding/json"
	"os"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/flagx"
	"github.com/dmitrijs2005/measurekeeper/internal/timex"
)

// JsonConfig defines a configuration structure tailored for JSON
// unmarshalling. It uses timex.Duration for interval fields, which allows
// parsing both string values such as "30s" and integer nanoseconds.
//
// This struct is an intermediate DTO used only for reading JSON
// configuration files. After unmarshalling, its fields are copied into the
// runtime Config struct which uses time.Duration.
type JsonConfig struct {
	DatabaseDSN       string         `json:"database_dsn"`
	StorageBackend    string         `json:"storage_backend"`
	UploadRootDir     string         `json:"upload_root_dir"`
	S3RootUser        string         `json:"s3_root_user"`
	S3RootPassword    string         `json:"s3_root_password"`
	S3Bucket          string         `json:"s3_bucket"`
	S3Region          string         `json:"s3_region"`
	S3BaseEndpoint    string         `json:"s3_base_endpoint"`
	UploadExpiration  timex.Duration `json:"upload_expiration"`
	CleanupInterval   timex.Duration `json:"cleanup_interval"`
	ChunkTimeout      timex.Duration `json:"chunk_timeout"`
	WorkerPoolSize    int64          `json:"worker_pool_size"`
	HandoffBufferSize int            `json:"handoff_buffer_size"`
}

// parseJson loads configuration values from a JSON file into the provided
// Config instance.
//
// The file path is taken from the -c or -config command-line flags; if
// neither is set, no JSON file is loaded. If the file cannot be read or
// contains invalid JSON, the function panics.
//
// The caller is expected to merge these values with defaults and
// command-line flags as part of the full configuration process.
func parseJson(config *Config) {

	// try flags
	jsonConfigFile := flagx.JsonConfigFlags()

	// nothing to load
	if jsonConfigFile == "" {
		return
	}

	c := &JsonConfig{}

	file, err := os.ReadFile(jsonConfigFile)
	if err != nil {
		panic(err)
	}

	err = json.Unmarshal(file, c)
	if err != nil {
		panic(err)
	}

	config.DatabaseDSN = c.DatabaseDSN
	config.StorageBackend = c.StorageBackend
	config.UploadRootDir = c.UploadRootDir
	config.S3RootUser = c.S3RootUser
	config.S3RootPassword = c.S3RootPassword
	config.S3Bucket = c.S3Bucket
	config.S3Region = c.S3Region
	config.S3BaseEndpoint = c.S3BaseEndpoint
	config.UploadExpiration = time.Duration(c.UploadExpiration.Duration)
	config.CleanupInterval = time.Duration(c.CleanupInterval.Duration)
	config.ChunkTimeout = time.Duration(c.ChunkTimeout.Duration)
	config.WorkerPoolSize = c.WorkerPoolSize
	config.HandoffBufferSize = c.HandoffBufferSize
}
