package config

import (
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/kelseyhightower/envconfig"
)

type Config struct {
	// Paths. Left empty here, resolved by Load.
	DatasetsDir  string `envconfig:"DATASETS"`
	DestineDir   string `envconfig:"DESTINE"`
	RegistersDir string `envconfig:"REGISTERS_DESTINE"`

	NormalizeWorkers int `envconfig:"NORMALIZE_WORKERS" default:"1" validate:"min=1"`

	// CKAN portal
	CKANURL         string  `envconfig:"CKAN_URL" default:"http://dados.cvm.gov.br" validate:"required,url"`
	PackagePattern  string  `envconfig:"PACKAGE_PATTERN" default:"^cia_aberta.+" validate:"regexp"`
	EnableDownload  bool    `envconfig:"ENABLE_DOWNLOAD" default:"false"`
	DownloadWorkers int     `envconfig:"DOWNLOAD_WORKERS" default:"4" validate:"min=1"`
	DownloadRate    float64 `envconfig:"DOWNLOAD_RATE" default:"5" validate:"gt=0"` // portal requests per second

	// database load
	EnableLoad  bool   `envconfig:"ENABLE_LOAD" default:"false"`
	LoadWorkers int    `envconfig:"LOAD_WORKERS" default:"2" validate:"min=1"`
	DBHost      string `envconfig:"DB_HOST" default:"localhost"`
	DBPort      string `envconfig:"DB_PORT" default:"5432"`
	DBUser      string `envconfig:"DB_USER" default:"fizim"`
	DBPass      string `envconfig:"DB_PASSWORD" default:"fizim"`
	DBName      string `envconfig:"DB_NAME" default:"fizim"`

	// email
	SMTPHost string `envconfig:"SMTP_HOST" default:"smtp.gmail.com"`
	SMTPPort int    `envconfig:"SMTP_PORT" default:"587"`
	SMTPUser string `envconfig:"SMTP_USER"`
	SMTPPass string `envconfig:"SMTP_PASS"`
	MailTo   string `envconfig:"MAIL_TO"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
}

// Overrides are values given explicitly (command-line flags). Non-empty
// fields win over the environment.
type Overrides struct {
	DatasetsDir      string
	DestineDir       string
	RegistersDir     string
	NormalizeWorkers int
	LogLevel         string
}

// Load reads the environment, applies o, then fills path defaults:
// DatasetsDir falls back to ../datasets (relative to the working directory),
// DestineDir to <datasets>/normalized and RegistersDir to <datasets>/registers.
func Load(o Overrides) (Config, error) {
	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("load config from env: %w", err)
	}

	override(&cfg.DatasetsDir, o.DatasetsDir)
	override(&cfg.DestineDir, o.DestineDir)
	override(&cfg.RegistersDir, o.RegistersDir)
	override(&cfg.LogLevel, o.LogLevel)
	if o.NormalizeWorkers > 0 {
		cfg.NormalizeWorkers = o.NormalizeWorkers
	}

	if strings.TrimSpace(cfg.DatasetsDir) == "" {
		wd, err := os.Getwd()
		if err != nil {
			return Config{}, err
		}
		cfg.DatasetsDir = filepath.Join(filepath.Dir(wd), "datasets")
	}
	if strings.TrimSpace(cfg.DestineDir) == "" {
		cfg.DestineDir = filepath.Join(cfg.DatasetsDir, "normalized")
	}
	if strings.TrimSpace(cfg.RegistersDir) == "" {
		cfg.RegistersDir = filepath.Join(cfg.DatasetsDir, "registers")
	}

	if err := cfg.validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func override(dst *string, v string) {
	if strings.TrimSpace(v) != "" {
		*dst = v
	}
}

var validation = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("regexp", func(fl validator.FieldLevel) bool {
		_, err := regexp.Compile(fl.Field().String())
		return err == nil
	})
	// report fields by their variable name
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		return f.Tag.Get("envconfig")
	})
	return v
}

func (c Config) validate() error {
	if err := validation.Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	return nil
}
