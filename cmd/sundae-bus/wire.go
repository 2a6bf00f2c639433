package main

import (
	"context"
	"fmt"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
	"github.com/SundaeSwap-finance/sundae-bus/sundae-bus/logdao"
	"github.com/SundaeSwap-finance/sundae-bus/sundae-bus/publish"
	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	sundaeddb "github.com/SundaeSwap-finance/sundae-bus/sundae-ddb"
	sundaekinesis "github.com/SundaeSwap-finance/sundae-bus/sundae-kinesis"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/kinesis"
	"github.com/rs/zerolog"
)

const feedBuffer = 1024

type wiring struct {
	log     sundaebus.Log
	mirror  sundaebus.Mirror
	feed    <-chan sundaebus.Message
	runners []func(ctx context.Context) error
}

// wire selects the durable log (--store) and the live feed (--feed).
func wire(ctx context.Context, s *session.Session, logger zerolog.Logger) (*wiring, error) {
	var (
		w      wiring
		memLog *sundaebus.MemoryLog
		env    = sundaecli.CommonOpts.Env
	)

	switch sundaebus.BusOpts.Store {
	case "memory":
		memLog = sundaebus.NewMemoryLog()
		w.log = memLog

	case "dynamodb":
		api, err := sundaeddb.DynamoDBAPI(s)
		if err != nil {
			return nil, err
		}
		dao := logdao.Build(api, env)
		if opts.CreateTables {
			if err := dao.CreateTables(ctx); err != nil {
				return nil, err
			}
		}
		w.log = dao

	default:
		return nil, fmt.Errorf("unknown store %q", sundaebus.BusOpts.Store)
	}

	switch sundaebus.BusOpts.Feed {
	case "memory":
		if memLog == nil {
			return nil, fmt.Errorf("feed memory requires store memory")
		}
		feed, err := memLog.Changes(ctx)
		if err != nil {
			return nil, err
		}
		w.feed = feed

	case "ddb-stream":
		if sundaebus.BusOpts.Store != "dynamodb" {
			return nil, fmt.Errorf("feed ddb-stream requires store dynamodb")
		}
		feed := make(chan sundaebus.Message, feedBuffer)
		handler := sundaeddb.NewHandler(service, sundaeddb.Streams(s), func(ctx context.Context, image map[string]*dynamodb.AttributeValue) error {
			msg, err := logdao.DecodeRecord(image)
			if err != nil {
				logger.Warn().Err(err).Msg("skipping stream record")
				return nil
			}
			return push(ctx, feed, msg)
		}, nil, nil)
		if handler.TableName == "" {
			handler.TableName = logdao.MessagesTableName(env)
		}
		w.feed = feed
		w.runners = append(w.runners, handler.Run)

	case "kinesis":
		client := kinesis.New(s)
		w.mirror = publish.Build(client, env)

		feed := make(chan sundaebus.Message, feedBuffer)
		handler := sundaekinesis.NewGenericHandler(service, client, publish.StreamName(env), func(ctx context.Context, data []byte) error {
			msg, err := publish.Decode(data)
			if err != nil {
				logger.Warn().Err(err).Msg("skipping kinesis record")
				return nil
			}
			return push(ctx, feed, msg)
		})
		w.feed = feed
		w.runners = append(w.runners, handler.Run)

	default:
		return nil, fmt.Errorf("unknown feed %q", sundaebus.BusOpts.Feed)
	}

	return &w, nil
}

func push(ctx context.Context, feed chan<- sundaebus.Message, msg sundaebus.Message) error {
	select {
	case feed <- msg:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
