package oauth2client

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/caarlos0/env/v11"
	"github.com/joho/godotenv"
	pkgerrors "github.com/pkg/errors"
)

// envValues mirrors Values with the environment variable bindings.
type envValues struct {
	BaseURL            string `env:"SERVICE_BASE_URL"`
	AuthURL            string `env:"OAUTH2_TOKEN_URL"`
	ClientID           string `env:"OAUTH2_CLIENT_ID"`
	ClientSecret       string `env:"OAUTH2_CLIENT_SECRET"`
	AuthTimeout        string `env:"OAUTH2_AUTH_TIMEOUT"`
	Scopes             string `env:"OAUTH2_SCOPES"`
	AuthStyle          string `env:"OAUTH2_AUTH_STYLE"`
	CAFile             string `env:"OAUTH2_CA_FILE"`
	InsecureSkipVerify bool   `env:"OAUTH2_INSECURE_SKIP_VERIFY"`
}

type envOptions struct {
	prefix    string
	envFile   string
	overrides map[string]string
	dotEnv    bool
}

// EnvOption configures FromEnv.
type EnvOption func(*envOptions)

// WithEnvPrefix prepends prefix to every variable name, e.g. "BILLING_" reads
// BILLING_OAUTH2_TOKEN_URL.
func WithEnvPrefix(prefix string) EnvOption {
	return func(o *envOptions) { o.prefix = prefix }
}

// WithEnvFile loads the given dotenv file before reading variables. Variables
// already present in the process environment win over the file.
func WithEnvFile(path string) EnvOption {
	return func(o *envOptions) { o.envFile = path }
}

// WithEnvironment supplies values that take precedence over the process environment.
// Entries may be given as a map or, via WithEnvPairs, as KEY=VALUE strings.
func WithEnvironment(values map[string]string) EnvOption {
	return func(o *envOptions) {
		if o.overrides == nil {
			o.overrides = make(map[string]string, len(values))
		}
		for k, v := range values {
			o.overrides[k] = v
		}
	}
}

// WithEnvPairs is WithEnvironment for KEY=VALUE strings. Malformed pairs are ignored.
func WithEnvPairs(pairs ...string) EnvOption {
	return WithEnvironment(toMap(pairs))
}

// WithoutDotEnv skips the automatic .env discovery.
func WithoutDotEnv() EnvOption {
	return func(o *envOptions) { o.dotEnv = false }
}

var dotEnvOnce sync.Once

// FromEnv builds a ClientConfig from environment variables.
//
// Unless WithoutDotEnv is given, the first call in the process looks for a .env
// file in the working directory and its parents and loads it without overriding
// variables that are already set.
func FromEnv(opts ...EnvOption) (ClientConfig, error) {
	o := envOptions{dotEnv: true}
	for _, opt := range opts {
		opt(&o)
	}

	if o.dotEnv {
		dotEnvOnce.Do(loadDotEnv)
	}
	if o.envFile != "" {
		if err := godotenv.Load(o.envFile); err != nil {
			return ClientConfig{}, pkgerrors.WithStack(&ConfigurationError{Key: o.envFile, Reason: err.Error()})
		}
	}

	environment := toMap(os.Environ())
	for k, v := range o.overrides {
		environment[k] = v
	}

	raw, err := env.ParseAsWithOptions[envValues](env.Options{
		Environment: environment,
		Prefix:      o.prefix,
	})
	if err != nil {
		return ClientConfig{}, pkgerrors.WithStack(&ConfigurationError{Key: o.prefix + "environment", Reason: err.Error()})
	}

	cfg, err := Build(Values(raw))
	if err != nil {
		var cfgErr *ConfigurationError
		if o.prefix != "" && errors.As(err, &cfgErr) {
			cfgErr.Key = o.prefix + cfgErr.Key
		}
		return ClientConfig{}, err
	}
	return cfg, nil
}

// loadDotEnv loads the nearest .env file, searching upwards from the working directory.
func loadDotEnv() {
	path := findDotEnv()
	if path == "" {
		return
	}
	_ = godotenv.Load(path)
}

func findDotEnv() string {
	dir, err := os.Getwd()
	if err != nil {
		return ""
	}
	for {
		candidate := filepath.Join(dir, ".env")
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate
		}
		parent := filepath.Dir(dir)
		if parent == dir {
			return ""
		}
		dir = parent
	}
}

// toMap converts KEY=VALUE pairs to a map.
func toMap(pairs []string) map[string]string {
	m := make(map[string]string, len(pairs))
	for _, p := range pairs {
		k, v, ok := strings.Cut(p, "=")
		if ok && k != "" {
			m[k] = v
		}
	}
	return m
}
