package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/pelletier/go-toml/v2"
)

// Duration decodes TOML strings such as "90s" or "15m".
type Duration struct {
	time.Duration
}

func (d *Duration) UnmarshalText(text []byte) error {
	parsed, err := time.ParseDuration(strings.TrimSpace(string(text)))
	if err != nil {
		return err
	}
	d.Duration = parsed
	return nil
}

func (d Duration) MarshalText() ([]byte, error) {
	return []byte(d.Duration.String()), nil
}

type Server struct {
	Addr       string   `toml:"addr"`
	JWTSecret  string   `toml:"jwt_secret"`
	AccessTTL  Duration `toml:"access_ttl"`
	RefreshTTL Duration `toml:"refresh_ttl"`
	DemoEmail  string   `toml:"demo_email"`
	DemoPass   string   `toml:"demo_password"`
}

type Storage struct {
	Driver     string `toml:"driver"`
	DataDir    string `toml:"data_dir"`
	SQLitePath string `toml:"sqlite_path"`
	UploadDir  string `toml:"upload_dir"`
}

type LLM struct {
	BaseURL string   `toml:"base_url"`
	APIKey  string   `toml:"api_key"`
	Model   string   `toml:"model"`
	Timeout Duration `toml:"timeout"`
}

type Toolchain struct {
	Driver        string   `toml:"driver"`
	FFmpegBinary  string   `toml:"ffmpeg_binary"`
	FFprobeBinary string   `toml:"ffprobe_binary"`
	OutputDir     string   `toml:"output_dir"`
	Timeout       Duration `toml:"timeout"`
}

type Dispatch struct {
	MaxConcurrentOps int     `toml:"max_concurrent_operations"`
	MaxUserOps       int     `toml:"max_user_operations"`
	MinConfidence    float64 `toml:"min_confidence"`
}

type Conversation struct {
	HistoryTurns       int `toml:"history_turns"`
	HistoryTokenBudget int `toml:"history_token_budget"`
}

type Logging struct {
	Level  string `toml:"level"`
	Format string `toml:"format"`
}

type Config struct {
	Server       Server       `toml:"server"`
	Storage      Storage      `toml:"storage"`
	LLM          LLM          `toml:"llm"`
	Toolchain    Toolchain    `toml:"toolchain"`
	Dispatch     Dispatch     `toml:"dispatch"`
	Conversation Conversation `toml:"conversation"`
	Logging      Logging      `toml:"logging"`
}

// Default returns the built-in configuration.
func Default() Config {
	return Config{
		Server: Server{
			Addr:       ":8080",
			JWTSecret:  "dev-change-me",
			AccessTTL:  Duration{15 * time.Minute},
			RefreshTTL: Duration{14 * 24 * time.Hour},
			DemoEmail:  "demo@chatedit.local",
			DemoPass:   "demo123456",
		},
		Storage: Storage{
			Driver:  "memory",
			DataDir: "./data",
		},
		LLM: LLM{
			BaseURL: "https://api.openai.com/v1",
			Model:   "gpt-4o-mini",
			Timeout: Duration{20 * time.Second},
		},
		Toolchain: Toolchain{
			Driver:        "ffmpeg",
			FFmpegBinary:  "ffmpeg",
			FFprobeBinary: "ffprobe",
			Timeout:       Duration{10 * time.Minute},
		},
		Dispatch: Dispatch{
			MaxConcurrentOps: 8,
			MaxUserOps:       4,
			MinConfidence:    0.6,
		},
		Conversation: Conversation{
			HistoryTurns:       12,
			HistoryTokenBudget: 1500,
		},
		Logging: Logging{
			Level:  "info",
			Format: "json",
		},
	}
}

// Load layers defaults, the optional TOML file at path, an optional .env
// file and CHATEDIT_* environment variables, in that order.
func Load(path string) (Config, error) {
	cfg := Default()
	if path != "" {
		if err := cfg.mergeFile(path); err != nil {
			return Config{}, err
		}
	}
	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return Config{}, fmt.Errorf("load .env: %w", err)
	}
	cfg.applyEnv()
	cfg.normalize()
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func (c *Config) mergeFile(path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := toml.Unmarshal(data, c); err != nil {
		return fmt.Errorf("parse config %s: %w", path, err)
	}
	return nil
}

func (c *Config) applyEnv() {
	c.Server.Addr = env("CHATEDIT_ADDR", c.Server.Addr)
	c.Server.JWTSecret = env("CHATEDIT_JWT_SECRET", c.Server.JWTSecret)
	c.Server.AccessTTL = Duration{envDuration("CHATEDIT_ACCESS_TTL", c.Server.AccessTTL.Duration)}
	c.Server.RefreshTTL = Duration{envDuration("CHATEDIT_REFRESH_TTL", c.Server.RefreshTTL.Duration)}
	c.Server.DemoEmail = env("CHATEDIT_DEMO_EMAIL", c.Server.DemoEmail)
	c.Server.DemoPass = env("CHATEDIT_DEMO_PASSWORD", c.Server.DemoPass)

	c.Storage.Driver = env("CHATEDIT_STORE", c.Storage.Driver)
	c.Storage.DataDir = env("CHATEDIT_DATA_DIR", c.Storage.DataDir)
	c.Storage.SQLitePath = env("CHATEDIT_SQLITE_PATH", c.Storage.SQLitePath)
	c.Storage.UploadDir = env("CHATEDIT_UPLOAD_DIR", c.Storage.UploadDir)

	c.LLM.BaseURL = env("CHATEDIT_LLM_BASE_URL", c.LLM.BaseURL)
	c.LLM.APIKey = env("CHATEDIT_LLM_API_KEY", c.LLM.APIKey)
	c.LLM.Model = env("CHATEDIT_LLM_MODEL", c.LLM.Model)
	c.LLM.Timeout = Duration{envDuration("CHATEDIT_LLM_TIMEOUT", c.LLM.Timeout.Duration)}

	c.Toolchain.Driver = env("CHATEDIT_TOOLCHAIN", c.Toolchain.Driver)
	c.Toolchain.FFmpegBinary = env("CHATEDIT_FFMPEG", c.Toolchain.FFmpegBinary)
	c.Toolchain.FFprobeBinary = env("CHATEDIT_FFPROBE", c.Toolchain.FFprobeBinary)
	c.Toolchain.OutputDir = env("CHATEDIT_OUTPUT_DIR", c.Toolchain.OutputDir)
	c.Toolchain.Timeout = Duration{envDuration("CHATEDIT_TOOLCHAIN_TIMEOUT", c.Toolchain.Timeout.Duration)}

	c.Dispatch.MaxConcurrentOps = envInt("CHATEDIT_MAX_CONCURRENT_OPERATIONS", c.Dispatch.MaxConcurrentOps)
	c.Dispatch.MaxUserOps = envInt("CHATEDIT_MAX_USER_OPERATIONS", c.Dispatch.MaxUserOps)
	c.Dispatch.MinConfidence = envFloat("CHATEDIT_MIN_CONFIDENCE", c.Dispatch.MinConfidence)

	c.Conversation.HistoryTurns = envInt("CHATEDIT_HISTORY_TURNS", c.Conversation.HistoryTurns)
	c.Conversation.HistoryTokenBudget = envInt("CHATEDIT_HISTORY_TOKEN_BUDGET", c.Conversation.HistoryTokenBudget)

	c.Logging.Level = env("CHATEDIT_LOG_LEVEL", c.Logging.Level)
	c.Logging.Format = env("CHATEDIT_LOG_FORMAT", c.Logging.Format)
}

func (c *Config) normalize() {
	c.Storage.Driver = strings.ToLower(strings.TrimSpace(c.Storage.Driver))
	c.Toolchain.Driver = strings.ToLower(strings.TrimSpace(c.Toolchain.Driver))
	if c.Storage.SQLitePath == "" {
		c.Storage.SQLitePath = filepath.Join(c.Storage.DataDir, "chatedit.db")
	}
	if c.Storage.UploadDir == "" {
		c.Storage.UploadDir = filepath.Join(c.Storage.DataDir, "uploads")
	}
	if c.Toolchain.OutputDir == "" {
		c.Toolchain.OutputDir = filepath.Join(c.Storage.DataDir, "artifacts")
	}
	if c.Dispatch.MaxConcurrentOps < 1 {
		c.Dispatch.MaxConcurrentOps = 8
	}
	if c.Dispatch.MaxUserOps < 1 {
		c.Dispatch.MaxUserOps = 4
	}
}

// Validate rejects configurations the service cannot start with.
func (c Config) Validate() error {
	switch c.Storage.Driver {
	case "memory", "sqlite":
	default:
		return fmt.Errorf("storage.driver must be memory or sqlite, got %q", c.Storage.Driver)
	}
	switch c.Toolchain.Driver {
	case "ffmpeg", "mock":
	default:
		return fmt.Errorf("toolchain.driver must be ffmpeg or mock, got %q", c.Toolchain.Driver)
	}
	if c.Dispatch.MinConfidence < 0 || c.Dispatch.MinConfidence > 1 {
		return fmt.Errorf("dispatch.min_confidence must be within [0,1], got %g", c.Dispatch.MinConfidence)
	}
	if strings.TrimSpace(c.Server.JWTSecret) == "" {
		return errors.New("server.jwt_secret is required")
	}
	return nil
}

func env(key, fallback string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, fallback int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return fallback
}

func envFloat(key string, fallback float64) float64 {
	if v := os.Getenv(key); v != "" {
		if f, err := strconv.ParseFloat(v, 64); err == nil {
			return f
		}
	}
	return fallback
}

func envDuration(key string, fallback time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return fallback
}
