// Package config handles application configuration loading and management.
package config

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/caarlos0/env/v11"
)

// Config holds the application configuration.
type Config struct {
	HTTP       HTTP
	App        App
	Job        Job
	Dir        Dir
	Storage    Storage
	Fetch      Fetch
	DepManager DepManager
	InfoCache  InfoCache
	Format     Format
}

// App holds application-wide configuration.
type App struct {
	LogLevel string `env:"TUBEFETCH_APP_LOG_LEVEL" envDefault:"info"`
}

// Job holds job processing configuration.
type Job struct {
	// Workers is 1 by default: one job at a time is fetched.
	Workers   int `env:"TUBEFETCH_APP_JOB_WORKERS"    envDefault:"1"`
	QueueSize int `env:"TUBEFETCH_APP_JOB_QUEUE_SIZE" envDefault:"50"`
	// Timeout of 0 disables the job deadline; subprocesses then only stop on cancellation.
	Timeout time.Duration `env:"TUBEFETCH_APP_JOB_TIMEOUT" envDefault:"0s"`
	// StopGracePeriod is how long a subprocess gets after SIGTERM before it is killed.
	StopGracePeriod time.Duration `env:"TUBEFETCH_APP_JOB_STOP_GRACE_PERIOD" envDefault:"5s"`
}

// Storage holds storage configuration.
type Storage struct {
	TTL             time.Duration `env:"TUBEFETCH_APP_STORAGE_TTL"              envDefault:"168h"`
	CleanupInterval time.Duration `env:"TUBEFETCH_APP_STORAGE_CLEANUP_INTERVAL" envDefault:"1h"`
}

// HTTP holds HTTP server configuration.
type HTTP struct {
	Port            string        `env:"TUBEFETCH_HTTP_PORT"             envDefault:":8080"`
	HandlerTimeout  time.Duration `env:"TUBEFETCH_HTTP_HANDLER_TIMEOUT"  envDefault:"20s"`
	ShutdownTimeout time.Duration `env:"TUBEFETCH_HTTP_SHUTDOWN_TIMEOUT" envDefault:"10s"`
}

// Dir holds directory paths for downloads, cache, settings and cookie file.
type Dir struct {
	Downloads string `env:"TUBEFETCH_DIR_DOWNLOAD" envDefault:"./data/downloads"` // final artifacts stored here
	Cache     string `env:"TUBEFETCH_DIR_CACHE"    envDefault:"./data/cache"`     // yt-dlp cache (meta, sigs)

	// Settings is the YAML file backing the key-value settings store.
	Settings string `env:"TUBEFETCH_DIR_SETTINGS" envDefault:"./data/settings.yaml"`

	// must contain cookies.txt file
	// see: https://github.com/yt-dlp/yt-dlp/wiki/FAQ#how-do-i-pass-cookies-to-yt-dlp
	CookieFile string `env:"TUBEFETCH_DIR_COOKIE_FILE" envDefault:""`
}

// SetAbsPaths converts all directory paths to absolute paths.
func (c *Dir) SetAbsPaths() error {
	var err error
	if c.Downloads, err = filepath.Abs(c.Downloads); err != nil {
		return fmt.Errorf("downloads: %w", err)
	}

	if c.Cache, err = filepath.Abs(c.Cache); err != nil {
		return fmt.Errorf("cache: %w", err)
	}

	if c.Settings, err = filepath.Abs(c.Settings); err != nil {
		return fmt.Errorf("settings: %w", err)
	}

	if c.CookieFile != "" {
		if c.CookieFile, err = filepath.Abs(c.CookieFile); err != nil {
			return fmt.Errorf("cookie file: %w", err)
		}
	}

	return nil
}

// Fetch holds the resilient fetcher defaults.
type Fetch struct {
	MaxRedirects   int           `env:"TUBEFETCH_FETCH_MAX_REDIRECTS"   envDefault:"10"`
	MaxRetries     int           `env:"TUBEFETCH_FETCH_MAX_RETRIES"     envDefault:"4"`
	RequestTimeout time.Duration `env:"TUBEFETCH_FETCH_REQUEST_TIMEOUT" envDefault:"10m"`
	IdleTimeout    time.Duration `env:"TUBEFETCH_FETCH_IDLE_TIMEOUT"    envDefault:"30s"`
	BackoffBase    time.Duration `env:"TUBEFETCH_FETCH_BACKOFF_BASE"    envDefault:"1s"`
	BackoffFactor  float64       `env:"TUBEFETCH_FETCH_BACKOFF_FACTOR"  envDefault:"2"`
}

// InfoCache holds the describe cache limits.
type InfoCache struct {
	TTL      time.Duration `env:"TUBEFETCH_INFOCACHE_TTL"      envDefault:"60s"`
	Capacity int           `env:"TUBEFETCH_INFOCACHE_CAPACITY" envDefault:"50"`
}

// Format holds format selection preferences.
type Format struct {
	// PreferredLanguages breaks ties between audio tracks, first match wins.
	PreferredLanguages []string `env:"TUBEFETCH_FORMAT_PREFERRED_LANGUAGES" envDefault:"en" envSeparator:","`
}

// New loads configuration from environment variables.
func New() (*Config, error) {
	cfg := &Config{}

	err := env.Parse(cfg)
	if err != nil {
		return nil, fmt.Errorf("parse env: %w", err)
	}

	err = cfg.Dir.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set absolute paths: %w", err)
	}

	err = cfg.DepManager.SetAbsPaths()
	if err != nil {
		return nil, fmt.Errorf("set dep manager absolute paths: %w", err)
	}

	return cfg, nil
}

// DepManager holds binary dependency management configuration.
type DepManager struct {
	// BinsDir is the default tools directory; the tools_dir setting overrides it at runtime.
	BinsDir string `env:"TUBEFETCH_DEPMANAGER_BINS_DIR" envDefault:"./bins"`
	// UseSystemBinaries indicates whether to use system-installed binaries or download them.
	UseSystemBinaries bool `env:"TUBEFETCH_DEPMANAGER_USE_SYSTEM_BINARIES" envDefault:"false"`
	// PackageManagerFallback allows brew/apt-get/winget when a downloaded binary is unusable.
	PackageManagerFallback bool `env:"TUBEFETCH_DEPMANAGER_PACKAGE_MANAGER_FALLBACK" envDefault:"true"`
	// UpdateInterval is how often to check for binary updates
	UpdateInterval time.Duration `env:"TUBEFETCH_DEPMANAGER_UPDATE_INTERVAL" envDefault:"24h"`

	// Release mirrors. Artifact names per platform are fixed, see depmanager/defaults.go.
	YTdlpBaseURL  string `env:"TUBEFETCH_DEPMANAGER_YTDLP_BASE_URL"  envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/"`      //nolint:lll
	FFmpegBaseURL string `env:"TUBEFETCH_DEPMANAGER_FFMPEG_BASE_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/"` //nolint:lll
	FFmpegMacURL  string `env:"TUBEFETCH_DEPMANAGER_FFMPEG_MAC_URL"  envDefault:"https://evermeet.cx/ffmpeg/getrelease/zip"`                       //nolint:lll
	DenoBaseURL   string `env:"TUBEFETCH_DEPMANAGER_DENO_BASE_URL"   envDefault:"https://github.com/denoland/deno/releases/latest/download/"`      //nolint:lll

	// Checksum lists used to detect new releases. Comma-separated lists are accepted.
	YTdlpSHA256SumsURL  string `env:"TUBEFETCH_DEPMANAGER_YTDLP_SHA256SUMS_URL"  envDefault:"https://github.com/yt-dlp/yt-dlp/releases/latest/download/SHA2-256SUMS"`                                                                                                                                   //nolint:lll
	FFmpegSHA256SumsURL string `env:"TUBEFETCH_DEPMANAGER_FFMPEG_SHA256SUMS_URL" envDefault:"https://github.com/BtbN/FFmpeg-Builds/releases/latest/download/checksums.sha256"`                                                                                                                           //nolint:lll
	DenoSHA256SumsURL   string `env:"TUBEFETCH_DEPMANAGER_DENO_SHA256SUMS_URL"   envDefault:"https://github.com/denoland/deno/releases/latest/download/deno-aarch64-unknown-linux-gnu.zip.sha256sum,https://github.com/denoland/deno/releases/latest/download/deno-x86_64-unknown-linux-gnu.zip.sha256sum"` //nolint:lll
}

// SetAbsPaths converts the BinsDir path to an absolute path.
func (d *DepManager) SetAbsPaths() error {
	var err error
	if d.BinsDir, err = filepath.Abs(d.BinsDir); err != nil {
		return fmt.Errorf("bins dir: %w", err)
	}

	return nil
}
