package profile

import (
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"strings"

	"github.com/pkg/errors"
)

// Profile is configuration to start the dispatch server.
type Profile struct {
	// Mode is one of demo, dev, prod.
	Mode string
	// Addr and Port bind the HTTP server.
	Addr string
	Port int
	// Data is the directory for local state (sqlite files).
	Data string
	// Driver selects the usage store backend: sqlite or postgres.
	Driver string
	// DSN is the driver-specific connection string.
	DSN string
	// ConfigDir is the base directory for dispatch.yaml.
	ConfigDir string
	// Version of the running binary.
	Version string

	// Multicore enables parallel fan-out across sub-tasks.
	Multicore bool

	// RateRPM caps dispatch requests per user per minute. Zero disables
	// the rate gate.
	RateRPM int
	// DailyBudgetUSD caps per-user daily spend. Zero disables the
	// budget gate.
	DailyBudgetUSD float64
}

func (p *Profile) IsDev() bool {
	return p.Mode != "prod"
}

// getEnvOrDefault returns environment variable value or default value.
func getEnvOrDefault(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvOrDefaultInt returns environment variable value as int or default value.
func getEnvOrDefaultInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intVal, err := strconv.Atoi(value); err == nil {
			return intVal
		}
	}
	return defaultValue
}

// getEnvOrDefaultFloat returns environment variable value as float64 or default value.
func getEnvOrDefaultFloat(key string, defaultValue float64) float64 {
	if value := os.Getenv(key); value != "" {
		if floatVal, err := strconv.ParseFloat(value, 64); err == nil {
			return floatVal
		}
	}
	return defaultValue
}

// FromEnv loads configuration from environment variables.
func (p *Profile) FromEnv() {
	p.Mode = getEnvOrDefault("MODELMUX_MODE", p.Mode)
	p.Addr = getEnvOrDefault("MODELMUX_ADDR", p.Addr)
	p.Port = getEnvOrDefaultInt("MODELMUX_PORT", p.Port)
	p.Data = getEnvOrDefault("MODELMUX_DATA", p.Data)
	p.Driver = getEnvOrDefault("MODELMUX_DRIVER", p.Driver)
	p.DSN = getEnvOrDefault("MODELMUX_DSN", p.DSN)
	p.ConfigDir = getEnvOrDefault("MODELMUX_CONFIG_DIR", p.ConfigDir)

	p.Multicore = getEnvOrDefault("MODELMUX_MULTICORE", "false") == "true" || p.Multicore
	p.RateRPM = getEnvOrDefaultInt("MODELMUX_RATE_RPM", p.RateRPM)
	p.DailyBudgetUSD = getEnvOrDefaultFloat("MODELMUX_DAILY_BUDGET_USD", p.DailyBudgetUSD)
}

func checkDataDir(dataDir string) (string, error) {
	// Convert to absolute path if relative path is supplied.
	if !filepath.IsAbs(dataDir) {
		relativeDir := filepath.Join(filepath.Dir(os.Args[0]), dataDir)
		absDir, err := filepath.Abs(relativeDir)
		if err != nil {
			return "", err
		}
		dataDir = absDir
	}

	// Trim trailing \ or / in case user supplies
	dataDir = strings.TrimRight(dataDir, "\\/")
	if _, err := os.Stat(dataDir); err != nil {
		return "", errors.Wrapf(err, "unable to access data folder %s", dataDir)
	}
	return dataDir, nil
}

// Validate normalizes the profile and fills derived defaults: the mode,
// the data directory, and the sqlite DSN when none is supplied.
func (p *Profile) Validate() error {
	if p.Mode != "demo" && p.Mode != "dev" && p.Mode != "prod" {
		p.Mode = "demo"
	}

	if p.Driver == "" {
		p.Driver = "sqlite"
	}
	if p.Driver != "sqlite" && p.Driver != "postgres" {
		return errors.Errorf("unknown driver %q (expected sqlite or postgres)", p.Driver)
	}

	if p.ConfigDir == "" {
		p.ConfigDir = "."
	}

	if p.Mode == "prod" && p.Data == "" {
		if runtime.GOOS == "windows" {
			p.Data = filepath.Join(os.Getenv("ProgramData"), "modelmux")
			if _, err := os.Stat(p.Data); os.IsNotExist(err) {
				if err := os.MkdirAll(p.Data, 0770); err != nil {
					slog.Error("failed to create data directory", slog.String("data", p.Data), slog.String("error", err.Error()))
					return err
				}
			}
		} else {
			p.Data = "/var/opt/modelmux"
		}
	}
	if p.Data == "" {
		p.Data = "."
	}

	dataDir, err := checkDataDir(p.Data)
	if err != nil {
		slog.Error("failed to check data dir", slog.String("data", p.Data), slog.String("error", err.Error()))
		return err
	}
	p.Data = dataDir

	if p.Driver == "sqlite" && p.DSN == "" {
		dbFile := fmt.Sprintf("modelmux_%s.db", p.Mode)
		p.DSN = filepath.Join(dataDir, dbFile)
	}
	if p.Driver == "postgres" && p.DSN == "" {
		return errors.New("postgres driver requires a dsn")
	}

	return nil
}
