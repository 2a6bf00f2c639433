package sundaecron

import (
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/urfave/cli/v2"
)

var CronOpts struct {
	Interval time.Duration
}

var IntervalFlag = sundaecli.DurationFlag("stats-interval", "how often to publish bus stats; 0 disables", &CronOpts.Interval, time.Minute)

var CronFlags = []cli.Flag{
	IntervalFlag,
}
