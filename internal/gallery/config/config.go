package config

import (
	"log"
	"os"
	"path/filepath"

	"github.com/anthanhphan/gosdk/conflux"
	"github.com/anthanhphan/gosdk/logger"
)

const (
	BackendGitHub = "github"
	BackendLocal  = "local"
)

// Config holds gallery service configuration
type Config struct {
	Server ServerConfig  `json:"server" yaml:"server"`
	App    AppConfig     `json:"app" yaml:"app"`
	GitHub GitHubConfig  `json:"github" yaml:"github"`
	Local  LocalConfig   `json:"local" yaml:"local"`
	Redis  RedisConfig   `json:"redis" yaml:"redis"`
	Logger logger.Config `json:"logger" yaml:"logger"`
}

type ServerConfig struct {
	Addr string `json:"addr" yaml:"addr"`
}

type AppConfig struct {
	Backend        string `json:"backend" yaml:"backend"` // "github" or "local"
	NodeID         int64  `json:"node_id" yaml:"node_id"`
	MaxFileSize    int64  `json:"max_file_size" yaml:"max_file_size"`
	RefreshDelayMS int    `json:"refresh_delay_ms" yaml:"refresh_delay_ms"` // negative: backend default
}

type GitHubConfig struct {
	APIBase   string `json:"api_base" yaml:"api_base"`
	Owner     string `json:"owner" yaml:"owner"`
	Repo      string `json:"repo" yaml:"repo"`
	Path      string `json:"path" yaml:"path"`
	Branch    string `json:"branch" yaml:"branch"`
	Token     string `json:"token" yaml:"token"`
	TimeoutMS int    `json:"timeout_ms" yaml:"timeout_ms"`
}

type LocalConfig struct {
	DataDir             string `json:"data_dir" yaml:"data_dir"`
	FSync               bool   `json:"fsync" yaml:"fsync"`
	MaxSegmentSize      int64  `json:"max_segment_size" yaml:"max_segment_size"`
	CompactionThreshold int    `json:"compaction_threshold" yaml:"compaction_threshold"`
	QuotaBytes          int64  `json:"quota_bytes" yaml:"quota_bytes"`
}

type RedisConfig struct {
	Addr           string `json:"addr" yaml:"addr"`
	Password       string `json:"password" yaml:"password"`
	DB             int    `json:"db" yaml:"db"`
	ListCacheTTLMS int    `json:"list_cache_ttl_ms" yaml:"list_cache_ttl_ms"`
}

// DefaultConfig returns configuration with default values
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			Addr: ":8080",
		},
		App: AppConfig{
			Backend:        BackendLocal,
			NodeID:         1,
			MaxFileSize:    200 * 1024 * 1024, // 200MB
			RefreshDelayMS: -1,
		},
		GitHub: GitHubConfig{
			APIBase:   "https://api.github.com",
			Path:      "recuerdos",
			Branch:    "main",
			TimeoutMS: 30000,
		},
		Local: LocalConfig{
			DataDir:             "./data",
			MaxSegmentSize:      64 * 1024 * 1024,
			CompactionThreshold: 8,
			QuotaBytes:          2 * 1024 * 1024 * 1024, // 2GB
		},
		Logger: logger.Config{
			LogLevel:    logger.LevelInfo,
			LogEncoding: logger.EncodingJSON,
		},
	}
}

// Load loads configuration from file. GITHUB_TOKEN, when set, overrides the
// token from the file so it never has to be committed.
func Load(path string) (*Config, error) {
	configPath := path
	if configPath == "" {
		env := os.Getenv("ENV")
		if env == "" {
			env = "local"
		}
		configPath = filepath.Join("internal", "gallery", "config", env+".yaml")
	}

	cfg := DefaultConfig()

	parsedCfg, err := conflux.ParseConfig(configPath, cfg)
	if err != nil {
		log.Printf("Config file not found or failed to parse, using defaults if file not specified. Path: %s, Error: %v", configPath, err)
		if path != "" {
			return nil, err
		}
		parsedCfg = cfg
	}

	if token := os.Getenv("GITHUB_TOKEN"); token != "" {
		parsedCfg.GitHub.Token = token
	}
	return parsedCfg, nil
}
