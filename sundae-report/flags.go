package sundaereport

import (
	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/urfave/cli/v2"
)

var ReportOpts struct {
	Bucket string
}

var BucketFlag = sundaecli.StringFlag("report-bucket", "s3 bucket for stats reports; reports are skipped when empty", &ReportOpts.Bucket)

var ReportFlags = []cli.Flag{
	BucketFlag,
}
