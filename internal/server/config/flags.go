package config

import (
	"flag"
	"os"
	"time"

	"github.com/dmitrijs2005/measurekeeper/internal/flagx"
)

// parseFlags populates selected collector Config fields from command-line flags.
//
// Supported flags (short forms):
//
//	-d string   PostgreSQL DSN
//	-k string   storage backend kind ("file" or "s3")
//	-o string   upload root directory (file backend)
//	-u string   S3 root user
//	-p string   S3 root password
//	-b string   S3 bucket name
//	-g string   S3 region
//	-e string   S3 base endpoint (e.g., "http://127.0.0.1:9000/")
//	-x int      upload expiration window, minutes
//	-i int      cleanup sweep interval, minutes
//	-t int      per-chunk operation deadline, seconds
//	-w int      blocking-operation worker pool size
//	-q int      handoff channel capacity
//
// Notes:
//   - The function first filters os.Args to only the flags it recognizes using
//     flagx.FilterArgs, avoiding collisions with other components.
//   - Duration flags are accepted as integers and converted to time.Duration.
func parseFlags(config *Config) {
	// Filter args to include only the flags handled here.
	args := flagx.FilterArgs(os.Args[1:], []string{"-d", "-k", "-o", "-u", "-p", "-b", "-g", "-e", "-x", "-i", "-t", "-w", "-q"})

	fs := flag.NewFlagSet("main", flag.ContinueOnError)

	fs.StringVar(&config.DatabaseDSN, "d", config.DatabaseDSN, "database DSN")
	fs.StringVar(&config.StorageBackend, "k", config.StorageBackend, "storage backend kind (file|s3)")
	fs.StringVar(&config.UploadRootDir, "o", config.UploadRootDir, "upload root directory")

	fs.StringVar(&config.S3RootUser, "u", config.S3RootUser, "S3 root user")
	fs.StringVar(&config.S3RootPassword, "p", config.S3RootPassword, "S3 root password")
	fs.StringVar(&config.S3Bucket, "b", config.S3Bucket, "S3 bucket")
	fs.StringVar(&config.S3Region, "g", config.S3Region, "S3 region")
	fs.StringVar(&config.S3BaseEndpoint, "e", config.S3BaseEndpoint, "S3 base endpoint")

	uploadExpiration := fs.Int("x", int(config.UploadExpiration.Minutes()), "upload_expiration (in minutes)")
	cleanupInterval := fs.Int("i", int(config.CleanupInterval.Minutes()), "cleanup_interval (in minutes)")
	chunkTimeout := fs.Int("t", int(config.ChunkTimeout.Seconds()), "chunk_timeout (in seconds)")

	fs.Int64Var(&config.WorkerPoolSize, "w", config.WorkerPoolSize, "worker pool size")
	fs.IntVar(&config.HandoffBufferSize, "q", config.HandoffBufferSize, "handoff channel capacity")

	if err := fs.Parse(args); err != nil {
		panic(err)
	}

	config.UploadExpiration = time.Duration(*uploadExpiration) * time.Minute
	config.CleanupInterval = time.Duration(*cleanupInterval) * time.Minute
	config.ChunkTimeout = time.Duration(*chunkTimeout) * time.Second
}
