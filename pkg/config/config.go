package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/exp/slices"
	"gopkg.in/yaml.v2"

	"github.com/telekom/logmail/pkg/ingest"
	"github.com/telekom/logmail/pkg/logrecord"
	"github.com/telekom/logmail/pkg/mail"
)

const (
	// DefaultPath is used when neither an argument nor PathEnv names a file.
	DefaultPath = "./config.yaml"
	// PathEnv overrides DefaultPath.
	PathEnv = "LOGMAIL_CONFIG_PATH"
	// DefaultShutdownTimeout bounds the graceful drain of pending mail.
	DefaultShutdownTimeout = 30 * time.Second
)

// ErrInvalid wraps every problem reported by Validate.
var ErrInvalid = errors.New("invalid configuration")

// envRef matches ${VAR}. A bare $name is left alone so secrets and template
// variables containing "$" survive loading.
var envRef = regexp.MustCompile(`\$\{([A-Za-z_][A-Za-z0-9_]*)\}`)

// expandEnv replaces ${VAR} references with their environment value.
// Unset variables expand to the empty string.
func expandEnv(content []byte) []byte {
	return envRef.ReplaceAllFunc(content, func(ref []byte) []byte {
		return []byte(os.Getenv(string(envRef.FindSubmatch(ref)[1])))
	})
}

type Ingest struct {
	// Level is the minimum record level that is mailed, by name ("warn") or
	// number ("40"). Empty mails everything.
	Level string             `yaml:"level"`
	Kafka *ingest.KafkaConfig `yaml:"kafka"`
}

// Filter converts the configured level into an ingest filter.
func (i Ingest) Filter() (ingest.Filter, error) {
	if strings.TrimSpace(i.Level) == "" {
		return ingest.Filter{}, nil
	}
	lvl, err := logrecord.ParseLevel(i.Level)
	if err != nil {
		return ingest.Filter{}, err
	}
	return ingest.Filter{MinLevel: lvl}, nil
}

type Metrics struct {
	// ListenAddress serves /metrics when set (e.g. ":9090").
	ListenAddress string `yaml:"listenAddress"`
}

type Config struct {
	Mail            mail.Options         `yaml:"mail"`
	Transport       mail.TransportConfig `yaml:"transport"`
	Ingest          Ingest               `yaml:"ingest"`
	Metrics         Metrics              `yaml:"metrics"`
	ShutdownTimeout time.Duration        `yaml:"shutdownTimeout"`
	Debug           bool                 `yaml:"debug"`
}

// Defaults returns the configuration used for keys absent from the file.
func Defaults() Config {
	return Config{
		Mail:            mail.Options{BodyType: mail.BodyText.String()},
		Transport:       mail.TransportConfig{Type: mail.KindDirect},
		ShutdownTimeout: DefaultShutdownTimeout,
	}
}

// Path resolves the config file location.
func Path(configPath ...string) string {
	if len(configPath) > 0 && configPath[0] != "" {
		return configPath[0]
	}
	if p := os.Getenv(PathEnv); p != "" {
		return p
	}
	return DefaultPath
}

// Load reads the logmail configuration from a file path.
// If configPath is empty, PathEnv and then "./config.yaml" are used.
// A .env file next to the config is loaded first without overriding the
// process environment; ${VAR} references in the file are then expanded.
func Load(configPath ...string) (Config, error) {
	path := Path(configPath...)
	cfg := Defaults()

	if err := loadDotEnv(filepath.Join(filepath.Dir(path), ".env")); err != nil {
		return cfg, err
	}

	content, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("trying to open logmail config file %s: %w", path, err)
	}

	if err := yaml.Unmarshal(expandEnv(content), &cfg); err != nil {
		return cfg, fmt.Errorf("error unmarshaling YAML %s: %w", path, err)
	}
	return cfg, nil
}

func loadDotEnv(path string) error {
	if _, err := os.Stat(path); err != nil {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		return fmt.Errorf("loading env file %s: %w", path, err)
	}
	return nil
}

// Validate reports every configuration problem at once.
func (c Config) Validate() error {
	var errs []error
	add := func(format string, args ...any) {
		errs = append(errs, fmt.Errorf("%w: "+format, append([]any{ErrInvalid}, args...)...))
	}

	if strings.TrimSpace(c.Mail.From) == "" {
		add("mail.from is required")
	}
	if len(c.Mail.To)+len(c.Mail.Cc)+len(c.Mail.Bcc) == 0 {
		add("at least one of mail.to, mail.cc or mail.bcc is required")
	}
	if _, err := mail.ParseBodyType(c.Mail.BodyType); err != nil {
		add("mail.bodyType: %v", err)
	}
	if _, err := logrecord.NewSubjectTemplate(c.Mail.SubjectTemplate); err != nil {
		add("mail.subjectTemplate: %v", err)
	}
	if _, err := logrecord.NewBodyTemplate(c.Mail.BodyTemplate); err != nil {
		add("mail.bodyTemplate: %v", err)
	}
	if !slices.Contains(mail.Kinds, c.Transport.Kind()) {
		add("transport.type %q is not one of %s", c.Transport.Type, strings.Join(mail.Kinds, ", "))
	}
	if _, err := c.Ingest.Filter(); err != nil {
		add("ingest.level: %v", err)
	}
	if k := c.Ingest.Kafka; k != nil && len(k.Brokers) > 0 && k.Topic == "" {
		add("ingest.kafka.topic is required when brokers are set")
	}
	if c.ShutdownTimeout < 0 {
		add("shutdownTimeout must not be negative")
	}
	return errors.Join(errs...)
}
