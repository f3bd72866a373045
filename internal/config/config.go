package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/ilyakaznacheev/cleanenv"
	"gopkg.in/yaml.v3"
)

const (
	defaultPort               = 8080
	defaultDataDir            = "data"
	defaultMaxConcurrentTasks = 3
	defaultLogLevel           = "info"
	defaultDPI                = 300
	defaultLanguage           = "eng"
	defaultClearCron          = "0 23 * * *"

	BackendBolt = "bolt"
	BackendFile = "file"

	EngineCLI      = "cli"
	EngineEmbedded = "embedded"
)

// Config describes runtime configuration for the service.
type Config struct {
	Port               int    `yaml:"port" env:"OCR_PORT"`
	DataDir            string `yaml:"data_dir" env:"OCR_DATA_DIR"`
	TempDir            string `yaml:"temp_dir" env:"OCR_TEMP_DIR"`
	MaxConcurrentTasks int    `yaml:"max_concurrent_tasks" env:"OCR_MAX_CONCURRENT_TASKS"`
	LogLevel           string `yaml:"log_level" env:"OCR_LOG_LEVEL"`

	Store        Store        `yaml:"store"`
	OCR          OCR          `yaml:"ocr"`
	Housekeeping Housekeeping `yaml:"housekeeping"`
}

type Store struct {
	Backend  string `yaml:"backend" env:"OCR_STORE_BACKEND"`
	BoltPath string `yaml:"bolt_path" env:"OCR_STORE_BOLT_PATH"`
}

type OCR struct {
	Engine          string `yaml:"engine" env:"OCR_ENGINE"`
	TesseractBin    string `yaml:"tesseract_bin" env:"OCR_TESSERACT_BIN"`
	TessdataDir     string `yaml:"tessdata_dir" env:"OCR_TESSDATA_DIR"`
	PdftoppmBin     string `yaml:"pdftoppm_bin" env:"OCR_PDFTOPPM_BIN"`
	DPI             int    `yaml:"dpi" env:"OCR_DPI"`
	DefaultLanguage string `yaml:"default_language" env:"OCR_DEFAULT_LANGUAGE"`
}

type Housekeeping struct {
	ClearCron string `yaml:"clear_cron" env:"OCR_CLEAR_CRON"`
}

// Default returns the configuration used when no file is present.
func Default() Config {
	return Config{
		Port:               defaultPort,
		DataDir:            defaultDataDir,
		MaxConcurrentTasks: defaultMaxConcurrentTasks,
		LogLevel:           defaultLogLevel,
		Store:              Store{Backend: BackendBolt},
		OCR: OCR{
			Engine:          EngineCLI,
			TesseractBin:    "tesseract",
			PdftoppmBin:     "pdftoppm",
			DPI:             defaultDPI,
			DefaultLanguage: defaultLanguage,
		},
		Housekeeping: Housekeeping{ClearCron: defaultClearCron},
	}
}

// Load reads YAML config from the provided path and applies OCR_* environment
// overrides. If the file does not exist or is empty, defaults are used.
func Load(path string) (Config, error) {
	cfg := Default()
	if path == "" {
		return cfg, errors.New("empty config path")
	}
	if err := readFile(path, &cfg); err != nil {
		return cfg, err
	}
	if err := cleanenv.ReadEnv(&cfg); err != nil {
		return cfg, fmt.Errorf("read env: %w", err)
	}
	normalize(&cfg)
	return cfg, validate(cfg)
}

func readFile(path string, cfg *Config) error {
	fileData, err := os.ReadFile(path) //nolint:gosec // config path is controlled by deployment
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("read config: %w", err)
	}
	if len(fileData) == 0 {
		return nil
	}
	if err := yaml.Unmarshal(fileData, cfg); err != nil {
		return fmt.Errorf("parse yaml: %w", err)
	}
	return nil
}

func normalize(cfg *Config) {
	if cfg.Port == 0 {
		cfg.Port = defaultPort
	}
	if cfg.DataDir == "" {
		cfg.DataDir = defaultDataDir
	}
	if cfg.TempDir == "" {
		cfg.TempDir = os.TempDir()
	}
	cfg.LogLevel = strings.ToLower(strings.TrimSpace(cfg.LogLevel))
	if cfg.LogLevel == "" {
		cfg.LogLevel = defaultLogLevel
	}
	cfg.Store.Backend = strings.ToLower(strings.TrimSpace(cfg.Store.Backend))
	if cfg.Store.Backend == "" {
		cfg.Store.Backend = BackendBolt
	}
	if cfg.Store.BoltPath == "" {
		cfg.Store.BoltPath = filepath.Join(cfg.DataDir, "tasks.db")
	}
	cfg.OCR.Engine = strings.ToLower(strings.TrimSpace(cfg.OCR.Engine))
	if cfg.OCR.Engine == "" {
		cfg.OCR.Engine = EngineCLI
	}
	if cfg.OCR.TesseractBin == "" {
		cfg.OCR.TesseractBin = "tesseract"
	}
	if cfg.OCR.PdftoppmBin == "" {
		cfg.OCR.PdftoppmBin = "pdftoppm"
	}
	if cfg.OCR.DPI == 0 {
		cfg.OCR.DPI = defaultDPI
	}
	if cfg.OCR.DefaultLanguage == "" {
		cfg.OCR.DefaultLanguage = defaultLanguage
	}
	if cfg.Housekeeping.ClearCron == "" {
		cfg.Housekeeping.ClearCron = defaultClearCron
	}
}

func validate(cfg Config) error {
	// values < 1 are not allowed
	if cfg.MaxConcurrentTasks < 1 {
		return fmt.Errorf("invalid max_concurrent_tasks: %d (must be >= 1)", cfg.MaxConcurrentTasks)
	}
	if cfg.Store.Backend != BackendBolt && cfg.Store.Backend != BackendFile {
		return fmt.Errorf("invalid store.backend: %q (want %s or %s)", cfg.Store.Backend, BackendBolt, BackendFile)
	}
	if cfg.OCR.Engine != EngineCLI && cfg.OCR.Engine != EngineEmbedded {
		return fmt.Errorf("invalid ocr.engine: %q (want %s or %s)", cfg.OCR.Engine, EngineCLI, EngineEmbedded)
	}
	if cfg.OCR.DPI < 0 {
		return fmt.Errorf("invalid ocr.dpi: %d", cfg.OCR.DPI)
	}
	return nil
}

// TasksDir is where per-task input and output directories live.
func (c Config) TasksDir() string {
	return filepath.Join(c.DataDir, "files")
}
