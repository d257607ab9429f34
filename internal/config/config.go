package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/BurntSushi/toml"
)

// Config holds application configuration.
type Config struct {
	Server    ServerConfig    `toml:"server"`
	Downloads DownloadsConfig `toml:"downloads"`
	Fetchers  []FetcherConfig `toml:"fetchers"`
	Journal   JournalConfig   `toml:"journal"`
	Search    SearchConfig    `toml:"search"`

	// Path of the file the config was read from, empty if none.
	Path string `toml:"-"`
}

type ServerConfig struct {
	Port      int     `toml:"port"`
	StaticDir string  `toml:"static_dir"`
	RateLimit float64 `toml:"rate_limit"`
	RateBurst int     `toml:"rate_burst"`
}

type DownloadsConfig struct {
	Dir       string `toml:"dir"`
	Workers   int    `toml:"workers"`
	QueueSize int    `toml:"queue_size"`
	Resubmit  string `toml:"resubmit"`
	Transcode bool   `toml:"transcode"`
	YtDlp     string `toml:"ytdlp"`
	FFmpeg    string `toml:"ffmpeg"`
}

// FetcherConfig declares a URL-pattern specific yt-dlp invocation.
// Args are appended to the default arguments; {url} is replaced with the
// source URL.
type FetcherConfig struct {
	Name      string   `toml:"name"`
	Pattern   string   `toml:"pattern"`
	Args      []string `toml:"args"`
	Transcode *bool    `toml:"transcode"`
}

type JournalConfig struct {
	Driver string      `toml:"driver"`
	Path   string      `toml:"path"`
	Redis  RedisConfig `toml:"redis"`
}

type RedisConfig struct {
	Addr     string        `toml:"addr"`
	Password string        `toml:"password"`
	DB       int           `toml:"db"`
	TTL      time.Duration `toml:"ttl"`
}

type SearchConfig struct {
	YouTubeAPIKey      string `toml:"youtube_api_key"`
	SoundCloudClientID string `toml:"soundcloud_client_id"`
	GeminiAPIKey       string `toml:"gemini_api_key"`
	Model              string `toml:"model"`
	ProviderLimit      int    `toml:"provider_limit"`
}

// Enabled reports whether a ranker and at least one provider are configured.
func (s SearchConfig) Enabled() bool {
	return s.GeminiAPIKey != "" && (s.YouTubeAPIKey != "" || s.SoundCloudClientID != "")
}

const (
	DriverMemory = "memory"
	DriverSQLite = "sqlite"
	DriverRedis  = "redis"

	DefaultModel = "gemini-2.5-flash"
)

// DefaultConfigPath returns the config file path using XDG_CONFIG_HOME.
func DefaultConfigPath() string {
	configDir := os.Getenv("XDG_CONFIG_HOME")
	if configDir == "" {
		home, _ := os.UserHomeDir()
		configDir = filepath.Join(home, ".config")
	}
	return filepath.Join(configDir, "audiodrop", "config.toml")
}

// DefaultDBPath returns the default journal database path using XDG_CACHE_HOME.
func DefaultDBPath() string {
	cacheDir := os.Getenv("XDG_CACHE_HOME")
	if cacheDir == "" {
		home, _ := os.UserHomeDir()
		cacheDir = filepath.Join(home, ".cache")
	}
	return filepath.Join(cacheDir, "audiodrop", "jobs.db")
}

// DefaultDownloadDir returns the default audio directory.
func DefaultDownloadDir() string {
	home, _ := os.UserHomeDir()
	return filepath.Join(home, "Music", "audiodrop")
}

// ExpandPath replaces a leading ~ with the user's home directory.
func ExpandPath(path string) string {
	if path == "~" || strings.HasPrefix(path, "~/") {
		home, _ := os.UserHomeDir()
		return filepath.Join(home, strings.TrimPrefix(path, "~"))
	}
	return path
}

// Default returns the configuration used when nothing overrides it.
func Default() *Config {
	return &Config{
		Server: ServerConfig{
			Port:      5000,
			RateLimit: 5,
			RateBurst: 10,
		},
		Downloads: DownloadsConfig{
			Dir:       DefaultDownloadDir(),
			Workers:   2,
			QueueSize: 32,
			Resubmit:  "allow",
			YtDlp:     "yt-dlp",
			FFmpeg:    "ffmpeg",
		},
		Journal: JournalConfig{
			Driver: DriverMemory,
			Path:   DefaultDBPath(),
			Redis: RedisConfig{
				Addr: "localhost:6379",
				TTL:  7 * 24 * time.Hour,
			},
		},
		Search: SearchConfig{
			Model:         DefaultModel,
			ProviderLimit: 10,
		},
	}
}

// LoadFile decodes a TOML file over cfg. A missing file is reported as
// fs.ErrNotExist.
func LoadFile(cfg *Config, path string) error {
	if _, err := toml.DecodeFile(path, cfg); err != nil {
		return fmt.Errorf("load config %s: %w", path, err)
	}
	cfg.Path = path
	return nil
}

// Load builds Config from defaults, the TOML file, flags and environment,
// in that order of increasing precedence.
func Load(args []string) (*Config, error) {
	flags := flag.NewFlagSet("audiodrop", flag.ContinueOnError)
	configPath := flags.String("config", "", "Config file path (default $XDG_CONFIG_HOME/audiodrop/config.toml)")
	port := flags.Int("port", 0, "HTTP server port")
	dir := flags.String("dir", "", "Audio download directory")
	workers := flags.Int("workers", 0, "Number of download workers")
	journal := flags.String("journal", "", "Job journal driver: memory, sqlite or redis")
	db := flags.String("db", "", "SQLite journal path")
	static := flags.String("static", "", "Directory served at /")
	if err := flags.Parse(args); err != nil {
		return nil, err
	}

	cfg := Default()

	path := *configPath
	if path == "" {
		path = os.Getenv("AUDIODROP_CONFIG")
	}
	if path != "" {
		if err := LoadFile(cfg, ExpandPath(path)); err != nil {
			return nil, err
		}
	} else if err := LoadFile(cfg, DefaultConfigPath()); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, err
	}

	// Flags only override what was given explicitly.
	flags.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "port":
			cfg.Server.Port = *port
		case "dir":
			cfg.Downloads.Dir = *dir
		case "workers":
			cfg.Downloads.Workers = *workers
		case "journal":
			cfg.Journal.Driver = *journal
		case "db":
			cfg.Journal.Path = *db
		case "static":
			cfg.Server.StaticDir = *static
		}
	})

	applyEnv(cfg)

	cfg.Downloads.Dir = ExpandPath(cfg.Downloads.Dir)
	cfg.Journal.Path = ExpandPath(cfg.Journal.Path)
	cfg.Server.StaticDir = ExpandPath(cfg.Server.StaticDir)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func applyEnv(cfg *Config) {
	if port := os.Getenv("AUDIODROP_PORT"); port != "" {
		if p, err := strconv.Atoi(port); err == nil {
			cfg.Server.Port = p
		}
	}
	if dir := os.Getenv("AUDIODROP_DIR"); dir != "" {
		cfg.Downloads.Dir = dir
	}
	if workers := os.Getenv("AUDIODROP_WORKERS"); workers != "" {
		if n, err := strconv.Atoi(workers); err == nil {
			cfg.Downloads.Workers = n
		}
	}
	if resubmit := os.Getenv("AUDIODROP_RESUBMIT"); resubmit != "" {
		cfg.Downloads.Resubmit = resubmit
	}
	if driver := os.Getenv("AUDIODROP_JOURNAL"); driver != "" {
		cfg.Journal.Driver = driver
	}
	if db := os.Getenv("AUDIODROP_DB"); db != "" {
		cfg.Journal.Path = db
	}
	if addr := os.Getenv("AUDIODROP_REDIS_ADDR"); addr != "" {
		cfg.Journal.Redis.Addr = addr
	}
	if key := os.Getenv("AUDIODROP_YOUTUBE_API_KEY"); key != "" {
		cfg.Search.YouTubeAPIKey = key
	}
	if id := os.Getenv("AUDIODROP_SOUNDCLOUD_CLIENT_ID"); id != "" {
		cfg.Search.SoundCloudClientID = id
	}
	if key := os.Getenv("AUDIODROP_GEMINI_API_KEY"); key != "" {
		cfg.Search.GeminiAPIKey = key
	} else if key := os.Getenv("GEMINI_API_KEY"); key != "" && cfg.Search.GeminiAPIKey == "" {
		cfg.Search.GeminiAPIKey = key
	}
}

// Validate rejects settings the application cannot run with.
func (c *Config) Validate() error {
	if c.Server.Port < 0 || c.Server.Port > 65535 {
		return fmt.Errorf("invalid port %d", c.Server.Port)
	}
	if c.Downloads.Dir == "" {
		return errors.New("downloads.dir must be set")
	}
	if c.Downloads.Workers < 1 {
		return fmt.Errorf("downloads.workers must be at least 1, got %d", c.Downloads.Workers)
	}
	if c.Downloads.QueueSize < 0 {
		return fmt.Errorf("downloads.queue_size must not be negative, got %d", c.Downloads.QueueSize)
	}
	switch c.Downloads.Resubmit {
	case "allow", "reject":
	default:
		return fmt.Errorf("downloads.resubmit must be allow or reject, got %q", c.Downloads.Resubmit)
	}
	switch c.Journal.Driver {
	case DriverMemory, DriverSQLite, DriverRedis:
	default:
		return fmt.Errorf("unknown journal driver %q", c.Journal.Driver)
	}
	for i, f := range c.Fetchers {
		if f.Name == "" || f.Pattern == "" {
			return fmt.Errorf("fetchers[%d]: name and pattern are required", i)
		}
	}
	return nil
}
