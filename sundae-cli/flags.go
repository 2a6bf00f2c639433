package sundaecli

import (
	"strings"
	"time"

	"github.com/urfave/cli/v2"
)

var CommonOpts struct {
	Env       string
	LogLevel  string
	LogFormat string
	Metrics   bool
	Port      int
}

// envVar derives the conventional environment variable for a flag name,
// e.g. "table-name" becomes "TABLE_NAME".
func envVar(name string) string {
	return strings.ToUpper(strings.ReplaceAll(name, "-", "_"))
}

func StringFlag(name, usage string, destination *string, value ...string) *cli.StringFlag {
	var v string
	if len(value) > 0 {
		v = value[0]
	}
	return &cli.StringFlag{
		Name:        name,
		Usage:       usage,
		Value:       v,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}

func BoolFlag(name, usage string, destination *bool) *cli.BoolFlag {
	return &cli.BoolFlag{
		Name:        name,
		Usage:       usage,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}

func IntFlag(name, usage string, destination *int, value int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        name,
		Usage:       usage,
		Value:       value,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}

func Float64Flag(name, usage string, destination *float64, value float64) *cli.Float64Flag {
	return &cli.Float64Flag{
		Name:        name,
		Usage:       usage,
		Value:       value,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}

func DurationFlag(name, usage string, destination *time.Duration, value time.Duration) *cli.DurationFlag {
	return &cli.DurationFlag{
		Name:        name,
		Usage:       usage,
		Value:       value,
		EnvVars:     []string{envVar(name)},
		Destination: destination,
	}
}

var EnvFlag = cli.StringFlag{
	Name:        "env",
	Usage:       "environment; used as the prefix of table and stream names",
	Value:       "local",
	EnvVars:     []string{"ENV"},
	Destination: &CommonOpts.Env,
}
var LogLevelFlag = cli.StringFlag{
	Name:        "log-level",
	Usage:       "log level (trace debug info warn error)",
	Value:       "info",
	EnvVars:     []string{"LOG_LEVEL"},
	Destination: &CommonOpts.LogLevel,
}
var LogFormatFlag = cli.StringFlag{
	Name:        "log-format",
	Usage:       "log output format (json console)",
	Value:       "json",
	EnvVars:     []string{"LOG_FORMAT"},
	Destination: &CommonOpts.LogFormat,
}
var MetricsFlag = cli.BoolFlag{
	Name:        "metrics",
	Usage:       "whether to publish metrics to cloudwatch",
	Value:       false,
	EnvVars:     []string{"METRICS"},
	Destination: &CommonOpts.Metrics,
}
var PortFlag = func(p int) *cli.IntFlag {
	return &cli.IntFlag{
		Name:        "port",
		Usage:       "Port to listen to",
		Value:       p,
		EnvVars:     []string{"PORT"},
		Destination: &CommonOpts.Port,
	}
}

var CommonFlags = []cli.Flag{
	&EnvFlag,
	&LogLevelFlag,
	&LogFormatFlag,
	&MetricsFlag,
}
