package internal

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/hbomb79/Archivist/internal/api"
	"github.com/hbomb79/Archivist/internal/archive"
	"github.com/hbomb79/Archivist/internal/awsconf"
	"github.com/hbomb79/Archivist/internal/database"
	"github.com/hbomb79/Archivist/internal/extract"
	"github.com/hbomb79/Archivist/internal/metrics"
	"github.com/hbomb79/Archivist/internal/queue"
	"github.com/ilyakaznacheev/cleanenv"
	"github.com/mitchellh/go-homedir"
)

const (
	BackendDynamoDB = "dynamodb"
	BackendPostgres = "postgres"

	ARCHIVIST_USER_DIR_SUFFIX = "archivist"
)

// ArchivistConfig is the struct used to contain the
// various user config supplied by file, or by the environment.
// It's loaded once at startup and never modified afterwards.
type ArchivistConfig struct {
	Queue      queue.Config     `yaml:"queue"`
	Storage    StorageConfig    `yaml:"storage"`
	Completion CompletionConfig `yaml:"completion"`
	Credential CredentialConfig `yaml:"credential"`
	Extractor  ExtractorConfig  `yaml:"extractor"`
	Metrics    metrics.Config   `yaml:"metrics"`
	API        api.RestConfig   `yaml:"api"`
	AWS        awsconf.Config   `yaml:"aws"`
}

// StorageConfig identifies where archived payloads are uploaded to.
type StorageConfig struct {
	Bucket    string `yaml:"bucket" env:"DOWNLOAD_BUCKET" env-required:"true" validate:"required"`
	KeyPrefix string `yaml:"key_prefix" env:"KEY_PREFIX"`
}

// CompletionConfig selects and configures the completion store. Only
// backends which support a conditional insert are offered.
type CompletionConfig struct {
	Backend  string                  `yaml:"backend" env:"COMPLETION_BACKEND" env-default:"dynamodb" validate:"oneof=dynamodb postgres"`
	Table    string                  `yaml:"table" env:"COMPLETION_TABLE" validate:"required_if=Backend dynamodb"`
	Database database.DatabaseConfig `yaml:"database" validate:"-"`
}

// CredentialConfig describes the session cookie file used by the extractor.
// When Bucket is empty, the storage bucket is used.
type CredentialConfig struct {
	Bucket    string        `yaml:"bucket" env:"COOKIE_BUCKET"`
	ObjectKey string        `yaml:"object_key" env:"COOKIE_OBJECT_KEY" env-required:"true" validate:"required"`
	MaxAge    time.Duration `yaml:"max_age" env:"COOKIE_MAX_AGE" env-required:"true" validate:"required,gt=0"`
	LocalPath string        `yaml:"local_path" env:"COOKIE_LOCAL_PATH"`
}

type ExtractorConfig struct {
	BinPath        string        `yaml:"bin_path" env:"YTDLP_PATH" env-default:"yt-dlp" validate:"required"`
	FormatSelector string        `yaml:"format" env:"YTDLP_FORMAT"`
	AttemptTimeout time.Duration `yaml:"attempt_timeout" env:"EXTRACTOR_ATTEMPT_TIMEOUT" env-default:"10m" validate:"min=0"`
	WorkDir        string        `yaml:"work_dir" env:"WORK_DIR"`
	URLTemplate    string        `yaml:"url_template" env:"SOURCE_URL_TEMPLATE" env-default:"https://www.youtube.com/watch?v=%s" validate:"required,contains=%s"`
}

// Load reads the configuration from the YAML file at configPath (if
// non-empty) and from the environment, which takes priority. Defaults
// which cannot be expressed statically are then applied, and the result
// is validated.
func Load(configPath string) (*ArchivistConfig, error) {
	var config ArchivistConfig
	if configPath != "" {
		path, err := homedir.Expand(configPath)
		if err != nil {
			return nil, fmt.Errorf("failed to expand configuration path %q: %w", configPath, err)
		}
		if err := cleanenv.ReadConfig(path, &config); err != nil {
			return nil, fmt.Errorf("failed to load configuration from %q: %w", path, err)
		}
	} else if err := cleanenv.ReadEnv(&config); err != nil {
		return nil, fmt.Errorf("failed to load configuration from environment: %w", err)
	}

	if err := config.applyDefaults(); err != nil {
		return nil, err
	}
	if err := config.Validate(); err != nil {
		return nil, err
	}

	return &config, nil
}

// Validate checks the configuration for missing or inconsistent settings.
func (config *ArchivistConfig) Validate() error {
	validate := validator.New()
	if err := validate.Struct(config); err != nil {
		return fmt.Errorf("invalid configuration: %w", err)
	}

	if config.Completion.Backend == BackendPostgres {
		if err := validate.Struct(config.Completion.Database); err != nil {
			return fmt.Errorf("invalid database configuration: %w", err)
		}
	}

	return nil
}

// Archive returns the configuration for the batch coordinator.
func (config *ArchivistConfig) Archive() archive.Config {
	return archive.Config{
		URLTemplate: config.Extractor.URLTemplate,
		KeyPrefix:   config.Storage.KeyPrefix,
		Bucket:      config.Storage.Bucket,
	}
}

// YtDlp returns the configuration for the extractor subprocess.
func (config *ArchivistConfig) YtDlp() extract.Config {
	return extract.Config{
		BinPath:        config.Extractor.BinPath,
		FormatSelector: config.Extractor.FormatSelector,
		AttemptTimeout: config.Extractor.AttemptTimeout,
	}
}

func (config *ArchivistConfig) applyDefaults() error {
	if config.Credential.Bucket == "" {
		config.Credential.Bucket = config.Storage.Bucket
	}

	if config.Extractor.WorkDir == "" {
		config.Extractor.WorkDir = filepath.Join(os.TempDir(), ARCHIVIST_USER_DIR_SUFFIX)
	}
	if config.Credential.LocalPath == "" {
		config.Credential.LocalPath = filepath.Join(config.Extractor.WorkDir, "cookies.txt")
	}

	var errs []error
	for _, path := range []*string{&config.Extractor.WorkDir, &config.Credential.LocalPath} {
		expanded, err := homedir.Expand(*path)
		if err != nil {
			errs = append(errs, fmt.Errorf("failed to expand path %q: %w", *path, err))
			continue
		}
		*path = expanded
	}

	return errors.Join(errs...)
}
