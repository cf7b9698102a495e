// Package config provides environment-variable-driven configuration
// loading: a flat struct, a Load() that reads an optional .env file via
// godotenv, and getEnv-family helpers.
package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/taggeddeploy/tds/internal/notify"
)

// DeployStrategyKind selects which transport variant backs the deploy
// strategy.
type DeployStrategyKind string

const (
	DeployStrategyMCO  DeployStrategyKind = "mco"
	DeployStrategySalt DeployStrategyKind = "salt"
)

// Config holds every recognized TDS configuration option.
type Config struct {
	// Database
	DatabaseDSN string

	// HTTP
	HTTPAddr string

	// Auth (REST validators)
	AdminJWTSecret string
	AuthTokens     []string

	// Deploy strategy
	DeployStrategy DeployStrategyKind
	MCOBin         string
	SaltMasterURL  string
	SaltAPIToken   string

	// Ingest repository layout
	RepoBuildBase  string
	RepoIncoming   string
	RepoProcessing string

	// Notifications
	NotificationMethods   []notify.Method
	NotificationValidTime time.Duration
	SMTPAddr              string
	SMTPFrom              string
	SMTPTo                []string
	HipChatRoomURL        string
	HipChatToken          string
	GraphiteAddr          string

	// Leader election
	ZookeeperHosts []string

	// Logging
	LogLevel  string
	LogFormat string
	LogOutput string

	// Installer daemon
	InstallerPollInterval time.Duration
	InstallerStallAfter   time.Duration
	InstallerRetryBudget  int

	// Ingest daemon
	IngestPollInterval time.Duration
}

// Load reads configuration from the process environment, optionally
// seeded from a .env file (missing file is not an error).
func Load() (*Config, error) {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		fmt.Fprintf(os.Stderr, "warning: could not load .env: %v\n", err)
	}

	cfg := &Config{}
	if err := cfg.loadFromEnv(); err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

func (c *Config) loadFromEnv() error {
	c.DatabaseDSN = getEnv("TDS_DATABASE_DSN", "")
	c.HTTPAddr = getEnv("TDS_HTTP_ADDR", ":8080")

	c.AdminJWTSecret = getEnv("TDS_ADMIN_JWT_SECRET", "")
	c.AuthTokens = splitNonEmpty(getEnv("TDS_AUTH_TOKENS", ""))

	c.DeployStrategy = DeployStrategyKind(getEnv("TDS_DEPLOY_STRATEGY", string(DeployStrategyMCO)))
	if c.DeployStrategy != DeployStrategyMCO && c.DeployStrategy != DeployStrategySalt {
		return fmt.Errorf("invalid TDS_DEPLOY_STRATEGY: %s (must be mco or salt)", c.DeployStrategy)
	}
	c.MCOBin = getEnv("TDS_MCO_BIN", "/usr/bin/mco")
	c.SaltMasterURL = getEnv("TDS_SALT_MASTER_URL", "")
	c.SaltAPIToken = getEnv("TDS_SALT_API_TOKEN", "")

	c.RepoBuildBase = getEnv("TDS_REPO_BUILD_BASE", "/repo")
	c.RepoIncoming = getEnv("TDS_REPO_INCOMING", "/repo/incoming")
	c.RepoProcessing = getEnv("TDS_REPO_PROCESSING", "/repo/processing")

	methods := splitNonEmpty(getEnv("TDS_NOTIFICATIONS_ENABLED_METHODS", "email"))
	c.NotificationMethods = make([]notify.Method, 0, len(methods))
	for _, m := range methods {
		switch notify.Method(m) {
		case notify.MethodEmail, notify.MethodHipChat, notify.MethodGraphite:
			c.NotificationMethods = append(c.NotificationMethods, notify.Method(m))
		default:
			return fmt.Errorf("invalid notification method: %s", m)
		}
	}
	validationSeconds := getIntEnv("TDS_NOTIFICATIONS_VALIDATION_TIME_SECONDS", 3600)
	c.NotificationValidTime = time.Duration(validationSeconds) * time.Second
	c.SMTPAddr = getEnv("TDS_SMTP_ADDR", "localhost:25")
	c.SMTPFrom = getEnv("TDS_SMTP_FROM", "tds@localhost")
	c.SMTPTo = splitNonEmpty(getEnv("TDS_SMTP_TO", ""))
	c.HipChatRoomURL = getEnv("TDS_HIPCHAT_ROOM_URL", "")
	c.HipChatToken = getEnv("TDS_HIPCHAT_TOKEN", "")
	c.GraphiteAddr = getEnv("TDS_GRAPHITE_ADDR", "")

	c.ZookeeperHosts = splitNonEmpty(getEnv("TDS_ZOOKEEPER", ""))

	c.LogLevel = getEnv("TDS_LOG_LEVEL", "info")
	c.LogFormat = getEnv("TDS_LOG_FORMAT", "text")
	c.LogOutput = getEnv("TDS_LOG_OUTPUT", "stdout")

	c.InstallerPollInterval = getDurationEnv("TDS_INSTALLER_POLL_INTERVAL", 5*time.Second)
	c.InstallerStallAfter = getDurationEnv("TDS_INSTALLER_STALL_AFTER", 5*time.Minute)
	c.InstallerRetryBudget = getIntEnv("TDS_INSTALLER_RETRY_BUDGET", 4)

	c.IngestPollInterval = getDurationEnv("TDS_INGEST_POLL_INTERVAL", 10*time.Second)

	return nil
}

// SingleNode reports whether leader election should be bypassed:
// absence of the zookeeper option means single-node mode.
func (c *Config) SingleNode() bool {
	return len(c.ZookeeperHosts) == 0
}

func getEnv(key, defaultValue string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return defaultValue
}

func getIntEnv(key string, defaultValue int) int {
	if v := os.Getenv(key); v != "" {
		if n, err := strconv.Atoi(v); err == nil {
			return n
		}
	}
	return defaultValue
}

func getDurationEnv(key string, defaultValue time.Duration) time.Duration {
	if v := os.Getenv(key); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			return d
		}
	}
	return defaultValue
}

func splitNonEmpty(s string) []string {
	if strings.TrimSpace(s) == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(s, ",") {
		part = strings.TrimSpace(part)
		if part != "" {
			out = append(out, part)
		}
	}
	return out
}
