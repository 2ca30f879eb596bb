// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

// Database configures the connection shared by every command.
type Database struct {
	DSN           string        `env:"DB_DSN,required,notEmpty"`
	SlowThreshold time.Duration `env:"PARTNERS_DB_SLOW_THRESHOLD" envDefault:"300ms"`
}

type Log struct {
	Level string `env:"PARTNERS_LOG_LEVEL" envDefault:"info"`
	// Development switches to console output with stack traces on warnings.
	Development bool `env:"PARTNERS_LOG_DEVELOPMENT" envDefault:"false"`
}

// API configures cmd/api.
type API struct {
	Database
	Log
	Addr string `env:"PARTNERS_ADDR" envDefault:":3000"`
	// AnonymousUserID is the user unauthenticated requests are checked as.
	// Zero leaves anonymous access unconfigured and such checks fail.
	AnonymousUserID uint     `env:"PARTNERS_ANONYMOUS_USER_ID" envDefault:"0"`
	CORSOrigins     []string `env:"PARTNERS_CORS_ORIGINS" envSeparator:"," envDefault:"*"`
}

// Crawl configures cmd/crawl.
type Crawl struct {
	Database
	Log
	GitHubToken string `env:"GITHUB_TOKEN"`
	Owner       string `env:"PARTNERS_CRAWL_OWNER" envDefault:"anthrotech-dev"`
	Repo        string `env:"PARTNERS_CRAWL_REPO" envDefault:"anthrotech-dev"`
	// Partner names the partner whose stream receives the commits.
	Partner string        `env:"PARTNERS_CRAWL_PARTNER,required,notEmpty"`
	Since   time.Duration `env:"PARTNERS_CRAWL_SINCE" envDefault:"48h"`
	Timeout time.Duration `env:"PARTNERS_CRAWL_TIMEOUT" envDefault:"30m"`
}

// CLI configures cmd/partnersctl.
type CLI struct {
	Database
	Log
}

// Parse fills target from the environment.
func Parse(target any) error {
	if err := env.Parse(target); err != nil {
		return fmt.Errorf("parse env: %w", err)
	}
	return nil
}

func LoadAPI() (API, error) {
	var cfg API
	err := Parse(&cfg)
	return cfg, err
}

func LoadCrawl() (Crawl, error) {
	var cfg Crawl
	err := Parse(&cfg)
	return cfg, err
}

func LoadCLI() (CLI, error) {
	var cfg CLI
	err := Parse(&cfg)
	return cfg, err
}
