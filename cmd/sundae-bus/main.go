package main

import (
	"context"
	"errors"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	sundaecron "github.com/SundaeSwap-finance/sundae-bus/sundae-cron"
	sundaeddb "github.com/SundaeSwap-finance/sundae-bus/sundae-ddb"
	sundaegql "github.com/SundaeSwap-finance/sundae-bus/sundae-gql"
	sundaekinesis "github.com/SundaeSwap-finance/sundae-bus/sundae-kinesis"
	sundaereport "github.com/SundaeSwap-finance/sundae-bus/sundae-report"
	sundaerest "github.com/SundaeSwap-finance/sundae-bus/sundae-rest"
	sundaesecret "github.com/SundaeSwap-finance/sundae-bus/sundae-secret"
	"github.com/aws/aws-sdk-go/service/cloudwatch"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/go-chi/chi/v5"
	"github.com/urfave/cli/v2"
	"golang.org/x/sync/errgroup"
)

var opts struct {
	CreateTables    bool
	ShutdownTimeout time.Duration
}

var service = sundaecli.NewService("sundae-bus")

func main() {
	flags := append([]cli.Flag{}, sundaecli.CommonFlags...)
	flags = append(flags,
		sundaecli.PortFlag(8080),
		sundaesecret.SecretNameFlag,
		sundaecli.BoolFlag("create-tables", "create the log tables if they do not exist", &opts.CreateTables),
		sundaecli.DurationFlag("shutdown-timeout", "time allowed for in-flight http requests on shutdown", &opts.ShutdownTimeout, 10*time.Second),
	)
	flags = append(flags, sundaebus.BusFlags...)
	flags = append(flags, sundaeddb.DDBFlags...)
	flags = append(flags, sundaekinesis.KinesisFlags...)
	flags = append(flags, sundaecron.CronFlags...)
	flags = append(flags, sundaereport.ReportFlags...)

	app := sundaecli.App(service, action, flags...)
	err := app.Run(os.Args)
	if err != nil {
		log.Fatalln(err)
	}
}

func action(c *cli.Context) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	logger := sundaecli.Logger(service)
	ctx = logger.WithContext(ctx)

	s, err := sundaeddb.Session()
	if err != nil {
		return err
	}
	if err := sundaesecret.Apply(c, s); err != nil {
		return err
	}
	if err := sundaecli.InitCommonOpts(c); err != nil {
		return err
	}

	var metrics sundaecli.Metrics
	if sundaecli.CommonOpts.Metrics {
		metrics = sundaecli.NewMetrics(service, cloudwatch.New(s))
	}

	w, err := wire(ctx, s, logger)
	if err != nil {
		return err
	}

	bus := sundaebus.New(sundaebus.Config{
		Log:          w.log,
		Mirror:       w.mirror,
		Logger:       logger,
		Metrics:      metrics,
		CatchUpLimit: sundaebus.BusOpts.CatchUpLimit,
		Session:      sundaebus.SessionOptionsFromFlags(),
	})

	report := sundaereport.NewHandler(service, s3.New(s), "stats", func(ctx context.Context) (interface{}, error) {
		return bus.Stats(), nil
	})
	stats := sundaecron.NewHandler(service, sundaecron.CronOpts.Interval, func(ctx context.Context) error {
		if _, err := bus.ReportStats(ctx); err != nil {
			return err
		}
		if report.Enabled() {
			return report.Generate(ctx)
		}
		return nil
	})

	group, ctx := errgroup.WithContext(ctx)

	router := sundaerest.Middlewares(service, chi.NewRouter())
	sundaerest.MembershipRoutes(router, bus.Membership)
	router.Get("/ws", bus.Handler(ctx))
	if err := sundaegql.Mount(router, sundaegql.NewMembershipResolver(sundaegql.NewConfig(service), bus.Membership)); err != nil {
		return err
	}

	group.Go(func() error {
		return bus.Dispatcher(sundaebus.BusOpts.FanOutConcurrency).Run(ctx, w.feed)
	})
	for _, run := range w.runners {
		run := run
		group.Go(func() error { return run(ctx) })
	}
	group.Go(func() error { return stats.Run(ctx) })
	group.Go(func() error {
		return sundaerest.Webserver(ctx, service, router, opts.ShutdownTimeout)
	})

	logger.Info().
		Str("store", sundaebus.BusOpts.Store).
		Str("feed", sundaebus.BusOpts.Feed).
		Msg("bus started")

	if err := group.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}
