// Package sundaecli provides common CLI utilities and boilerplate for building
// the bus server and its companion tools.
//
// This package includes standardized service configuration, common CLI flags,
// structured logging setup, and build information tracking.
package sundaecli

import (
	"fmt"
	"runtime/debug"

	"github.com/rs/zerolog"
	"github.com/urfave/cli/v2"
)

func App(service Service, action cli.ActionFunc, flags ...cli.Flag) *cli.App {
	return &cli.App{
		Name:                 service.Name,
		Usage:                fmt.Sprintf("%v messaging server", service.Name),
		Version:              service.Version,
		EnableBashCompletion: true,
		Before:               InitCommonOpts,
		Action:               action,
		Flags:                flags,
	}
}

// InitCommonOpts applies common options after flag parsing. The global log
// level is taken from --log-level; an unknown level or format is an error.
func InitCommonOpts(c *cli.Context) error {
	switch CommonOpts.LogFormat {
	case "", "json", "console":
	default:
		return fmt.Errorf("invalid log format %v", CommonOpts.LogFormat)
	}
	if CommonOpts.LogLevel == "" {
		return nil
	}
	level, err := zerolog.ParseLevel(CommonOpts.LogLevel)
	if err != nil {
		return fmt.Errorf("invalid log level %v: %w", CommonOpts.LogLevel, err)
	}
	zerolog.SetGlobalLevel(level)
	return nil
}

func CommitHash() string {
	if info, ok := debug.ReadBuildInfo(); ok {
		for _, setting := range info.Settings {
			if setting.Key == "vcs.revision" {
				return setting.Value
			}
		}
		return info.Main.Version
	}
	return "unknown"
}
