// Package sundaekinesis provides a long-running Kinesis consumer that hands
// each record to a callback.
package sundaekinesis

import (
	"context"
	"fmt"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/aws/aws-sdk-go/service/kinesis/kinesisiface"
	consumer "github.com/harlow/kinesis-consumer"
	"github.com/rs/zerolog"
)

type HandleMessageCallback func(ctx context.Context, data []byte) error

type Handler struct {
	Service    sundaecli.Service
	Logger     zerolog.Logger
	Client     kinesisiface.KinesisAPI
	StreamName string

	handleMessage HandleMessageCallback
}

func NewGenericHandler(
	service sundaecli.Service,
	client kinesisiface.KinesisAPI,
	streamName string,
	handleMessage HandleMessageCallback,
) *Handler {
	if KinesisOpts.StreamName != "" {
		streamName = KinesisOpts.StreamName
	}
	return &Handler{
		Service:       service,
		Logger:        sundaecli.Logger(service),
		Client:        client,
		StreamName:    streamName,
		handleMessage: handleMessage,
	}
}

type KinesisSequenceNumberKeyType string

var KinesisSequenceNumberKey = KinesisSequenceNumberKeyType("kinesisSequenceNumber")

// HandleRecord passes one record to the callback. The record's sequence
// number is available from the context under KinesisSequenceNumberKey.
func (h *Handler) HandleRecord(ctx context.Context, sequenceNumber string, data []byte) error {
	ctx = context.WithValue(ctx, KinesisSequenceNumberKey, sequenceNumber)
	if err := h.handleMessage(ctx, data); err != nil {
		return fmt.Errorf("failed to handle kinesis record %v: %w", sequenceNumber, err)
	}
	return nil
}

// Run scans every shard of the stream until ctx is done.
func (h *Handler) Run(ctx context.Context) error {
	options := append(iteratorOptions(), consumer.WithClient(h.Client))
	c, err := consumer.New(h.StreamName, options...)
	if err != nil {
		return fmt.Errorf("unable to create consumer for stream %v: %w", h.StreamName, err)
	}

	ctx = h.Logger.WithContext(ctx)
	h.Logger.Info().Str("stream", h.StreamName).Bool("replay", KinesisOpts.Replay).Msg("listening")
	return c.Scan(ctx, func(record *consumer.Record) error {
		var sequenceNumber string
		if record.SequenceNumber != nil {
			sequenceNumber = *record.SequenceNumber
		}
		return h.HandleRecord(ctx, sequenceNumber, record.Data)
	})
}

// iteratorOptions selects where each shard starts: the next record by
// default, the oldest retained record with --replay, or --replay-from.
func iteratorOptions() []consumer.Option {
	switch {
	case !KinesisOpts.Replay:
		return []consumer.Option{consumer.WithShardIteratorType("LATEST")}
	case KinesisOpts.ReplayFrom.Value() != nil:
		return []consumer.Option{
			consumer.WithShardIteratorType("AT_TIMESTAMP"),
			consumer.WithTimestamp(*KinesisOpts.ReplayFrom.Value()),
		}
	default:
		return []consumer.Option{consumer.WithShardIteratorType("TRIM_HORIZON")}
	}
}
