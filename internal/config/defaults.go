package config

import (
	"path/filepath"
	"time"

	"github.com/adrg/xdg"
)

const (
	maxConcurrentJobs    = 2
	batchSize            = 8
	maxAttempts          = 3
	retryDelay           = 1 * time.Second
	maxRetryDelay        = 30 * time.Second
	batchCooldown        = 5 * time.Second
	requestsPerSecond    = 0
	segmentTimeout       = 30 * time.Second
	estimatedSegmentSize = 2 << 20
	maxArtifactSize      = 8 << 30
	minSuccessRatio      = 0.85
	fullSuccessRatio     = 0.95
	writeChunkSize       = 1 << 20
	apiListen            = "127.0.0.1:8787"
)

// Paths are functions rather than vars so that tests can move the xdg base
// directories before they are resolved.

func defaultDownloadDir() string {
	return filepath.Join(xdg.UserDirs.Download, appName)
}

func defaultStorePath() string {
	return filepath.Join(xdg.DataHome, appName, appName+".db")
}

func defaultLogPath() string {
	return filepath.Join(xdg.StateHome, appName, appName+".log")
}

// DefaultPath is the config file read when no path is given.
func DefaultPath() string {
	return filepath.Join(xdg.ConfigHome, appName, "config.yaml")
}
