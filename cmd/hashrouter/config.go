package main

import (
	"fmt"
	"log/slog"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"go-hashrouter/logging"
)

const envPrefix = "HASHROUTER"

// serveConfig holds everything the serve command needs.
type serveConfig struct {
	Addr           string
	Servers        []string
	RoutedPaths    []string
	TotalSlots     int
	VirtualCopies  int
	DefaultPort    int
	BackendTimeout time.Duration
	SweepInterval  time.Duration
}

// backendConfig holds everything the backend command needs.
type backendConfig struct {
	ServerID string
	Addr     string
}

// newViper binds cmd's flags, HASHROUTER_* environment variables and the
// optional config file, in increasing order of precedence: file, env, flags set explicitly.
func newViper(cmd *cobra.Command) (*viper.Viper, error) {
	var v = viper.New()
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	if err := v.BindPFlags(cmd.Flags()); err != nil {
		return nil, fmt.Errorf("failed to bind flags: %w", err)
	}

	if configFile != "" {
		v.SetConfigFile(configFile)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("failed to read config %s: %w", configFile, err)
		}
	}

	return v, nil
}

func loadServeConfig(v *viper.Viper) (serveConfig, error) {
	var conf = serveConfig{
		Addr:           v.GetString("addr"),
		Servers:        splitList(v.GetStringSlice("servers")),
		RoutedPaths:    splitList(v.GetStringSlice("routed-paths")),
		TotalSlots:     v.GetInt("slots"),
		VirtualCopies:  v.GetInt("vnodes"),
		DefaultPort:    v.GetInt("default-port"),
		BackendTimeout: v.GetDuration("backend-timeout"),
		SweepInterval:  v.GetDuration("sweep-interval"),
	}

	if conf.TotalSlots <= 0 {
		return conf, fmt.Errorf("slots must be positive, got %d", conf.TotalSlots)
	}
	if conf.VirtualCopies <= 0 {
		return conf, fmt.Errorf("vnodes must be positive, got %d", conf.VirtualCopies)
	}
	for _, path := range conf.RoutedPaths {
		if !strings.HasPrefix(path, "/") {
			return conf, fmt.Errorf("routed path %q must start with /", path)
		}
	}

	return conf, nil
}

func loadBackendConfig(v *viper.Viper) backendConfig {
	return backendConfig{
		ServerID: v.GetString("id"),
		Addr:     v.GetString("addr"),
	}
}

// splitList flattens comma separated entries, as env vars arrive as one string.
func splitList(values []string) []string {
	var out = make([]string, 0, len(values))
	for _, value := range values {
		for _, part := range strings.Split(value, ",") {
			if part = strings.TrimSpace(part); part != "" {
				out = append(out, part)
			}
		}
	}
	return out
}

// newLogger installs the process logger from the bound log-level and log-json flags.
func newLogger(v *viper.Viper) *slog.Logger {
	var (
		level, err = logging.ParseLogLevel(v.GetString("log-level"))
		logger     = logging.Configure(os.Stderr, level, v.GetBool("log-json"))
	)
	if err != nil {
		logger.Warn("invalid log level", "error", err)
	}
	return logger
}
