package config

import (
	"errors"
	"flag"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

type Config struct {
	BaseURL          string
	Email            string
	Password         string
	CallbackPath     string
	LogLevel         string
	Timeout          time.Duration
	ProbePaths       []string
	ProbeConcurrency int
	Quiet            bool
}

func defaults() Config {
	return Config{
		BaseURL:          "http://localhost:3000",
		CallbackPath:     "/dashboard",
		LogLevel:         "info",
		Timeout:          30 * time.Second,
		ProbeConcurrency: 4,
	}
}

// Parse reads .env, command line flags and the environment, in that order.
// Environment variables win over flags.
func Parse() (*Config, error) {
	return ParseArgs(".env", os.Args[1:])
}

func ParseArgs(dotenvPath string, args []string) (*Config, error) {
	cfg := defaults()
	dotenv, err := readDotenv(dotenvPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.updateFromEnv(dotenv.lookup); err != nil {
		return nil, err
	}
	if err := cfg.updateFromFlags(args); err != nil {
		return nil, err
	}
	if err := cfg.updateFromEnv(os.LookupEnv); err != nil {
		return nil, err
	}
	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

type envFile map[string]string

func (e envFile) lookup(key string) (string, bool) {
	v, ok := e[key]
	return v, ok
}

// readDotenv reads the file without exporting it, so flags can still win
// over it. A missing file is not an error.
func readDotenv(path string) (envFile, error) {
	if path == "" {
		return envFile{}, nil
	}
	vars, err := godotenv.Read(path)
	if errors.Is(err, fs.ErrNotExist) {
		return envFile{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("config: can't load %s, %w", path, err)
	}
	return vars, nil
}

func (cfg *Config) updateFromFlags(args []string) error {
	flags := flag.NewFlagSet("apiprobe", flag.ContinueOnError)

	flagBaseURL := flags.String("b", cfg.BaseURL, "Base URL of the API under test.")
	flagEmail := flags.String("e", cfg.Email, "Login email.")
	flagPassword := flags.String("p", cfg.Password, "Login password.")
	flagTimeout := flags.Duration("t", cfg.Timeout, "Per request timeout.")
	flagLogLevel := flags.String("l", cfg.LogLevel, "Log level.")
	flagConcurrency := flags.Int("c", cfg.ProbeConcurrency, "Probes run in parallel.")
	flagQuiet := flags.Bool("quiet", cfg.Quiet, "Don't print the banner.")

	if err := flags.Parse(args); err != nil {
		return fmt.Errorf("config: bad flags, %w", err)
	}

	cfg.BaseURL = *flagBaseURL
	cfg.Email = *flagEmail
	cfg.Password = *flagPassword
	cfg.Timeout = *flagTimeout
	cfg.LogLevel = *flagLogLevel
	cfg.ProbeConcurrency = *flagConcurrency
	cfg.Quiet = *flagQuiet
	return nil
}

func (cfg *Config) updateFromEnv(lookup func(string) (string, bool)) error {
	if addr, ok := lookup("BASE_URL"); ok {
		cfg.BaseURL = addr
	}
	if email, ok := lookup("AUTH_EMAIL"); ok {
		cfg.Email = email
	}
	if pass, ok := lookup("AUTH_PASSWORD"); ok {
		cfg.Password = pass
	}
	if cb, ok := lookup("CALLBACK_PATH"); ok {
		cfg.CallbackPath = cb
	}
	if lvl, ok := lookup("LOG_LEVEL"); ok {
		cfg.LogLevel = lvl
	}
	if t, ok := lookup("REQUEST_TIMEOUT"); ok {
		d, err := time.ParseDuration(t)
		if err != nil {
			return fmt.Errorf("config: REQUEST_TIMEOUT `%s` is not a duration, %w", t, err)
		}
		cfg.Timeout = d
	}
	if paths, ok := lookup("PROBE_PATHS"); ok {
		cfg.ProbePaths = splitList(paths)
	}
	if c, ok := lookup("PROBE_CONCURRENCY"); ok {
		n, err := strconv.Atoi(c)
		if err != nil {
			return fmt.Errorf("config: PROBE_CONCURRENCY `%s` is not a number, %w", c, err)
		}
		cfg.ProbeConcurrency = n
	}
	return nil
}

func (cfg *Config) validate() error {
	if cfg.BaseURL == "" {
		return errors.New("config: base URL is required")
	}
	cfg.BaseURL = strings.TrimRight(cfg.BaseURL, "/")
	if cfg.Timeout <= 0 {
		return fmt.Errorf("config: timeout must be positive, got %s", cfg.Timeout)
	}
	if cfg.ProbeConcurrency < 1 {
		cfg.ProbeConcurrency = 1
	}
	return nil
}

func splitList(s string) []string {
	var out []string
	for _, item := range strings.Split(s, ",") {
		if item = strings.TrimSpace(item); item != "" {
			out = append(out, item)
		}
	}
	return out
}
