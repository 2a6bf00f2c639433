// Package sundaeddb provides DynamoDB and DAX client utilities, and a
// long-running reader of a table's DynamoDB stream.
package sundaeddb

import (
	"context"
	"encoding/json"
	"fmt"
	"sync"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodbstreams"
	"github.com/aws/aws-sdk-go/service/dynamodbstreams/dynamodbstreamsiface"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb"
	"golang.org/x/sync/errgroup"
)

type InsertCallback func(ctx context.Context, newValue map[string]*dynamodb.AttributeValue) error
type UpdateCallback func(ctx context.Context, oldValue, newValue map[string]*dynamodb.AttributeValue) error
type DeleteCallback func(ctx context.Context, oldValue map[string]*dynamodb.AttributeValue) error

type Handler struct {
	Logger       zerolog.Logger
	Streams      dynamodbstreamsiface.DynamoDBStreamsAPI
	TableName    string
	IteratorType string        // iterator for shards open at start; LATEST by default
	PollInterval time.Duration // wait after an empty read of an open shard
	ShardRefresh time.Duration // how often to look for shards created since start

	onInsert InsertCallback
	onUpdate UpdateCallback
	onDelete DeleteCallback

	mu   sync.Mutex
	seen map[string]struct{}
}

// NewHandler returns a handler configured from DDBOpts.
func NewHandler(
	service sundaecli.Service,
	streams dynamodbstreamsiface.DynamoDBStreamsAPI,
	onInsert InsertCallback,
	onUpdate UpdateCallback,
	onDelete DeleteCallback,
) *Handler {
	return &Handler{
		Logger:       sundaecli.Logger(service),
		Streams:      streams,
		TableName:    DDBOpts.TableName,
		IteratorType: DDBOpts.StreamIterator,
		PollInterval: DDBOpts.PollInterval,
		ShardRefresh: DDBOpts.ShardRefresh,
		onInsert:     onInsert,
		onUpdate:     onUpdate,
		onDelete:     onDelete,
	}
}

func (h *Handler) HandleEvent(ctx context.Context, event ddb.Event) error {
	h.Logger.Trace().Int("count", len(event.Records)).Msg("handling a batch of events")
	for _, record := range event.Records {
		if err := h.HandleSingleRecord(ctx, record); err != nil {
			h.Logger.Error().Err(err).Str("event", record.EventID).Msg("unable to handle record")
			return fmt.Errorf("unable to handle record: %w", err)
		}
	}
	return nil
}

func (h *Handler) HandleSingleRecord(ctx context.Context, record ddb.Record) error {
	switch record.EventName {
	case "INSERT":
		if h.onInsert != nil {
			return h.onInsert(ctx, record.Change.NewImage)
		}

	case "MODIFY":
		if h.onUpdate != nil {
			return h.onUpdate(ctx, record.Change.OldImage, record.Change.NewImage)
		}

	case "REMOVE":
		if h.onDelete != nil {
			return h.onDelete(ctx, record.Change.OldImage)
		}
	}
	return nil
}

// Run reads every shard of the table's stream until ctx is done or a record
// cannot be handled. Failed stream reads are retried.
func (h *Handler) Run(ctx context.Context) error {
	ss, err := h.Streams.ListStreamsWithContext(ctx, &dynamodbstreams.ListStreamsInput{
		TableName: aws.String(h.TableName),
	})
	if err != nil {
		return fmt.Errorf("unable to list streams for table %v: %w", h.TableName, err)
	}
	if len(ss.Streams) != 1 {
		return fmt.Errorf("too few or too many streams (%v) for table %v", len(ss.Streams), h.TableName)
	}
	streamArn := ss.Streams[0].StreamArn

	group, ctx := errgroup.WithContext(ctx)
	group.SetLimit(256)

	iteratorType := h.IteratorType
	if iteratorType == "" {
		iteratorType = dynamodbstreams.ShardIteratorTypeLatest
	}

	shards, err := h.newShards(ctx, streamArn)
	if err != nil {
		return err
	}
	h.Logger.Info().Str("tableName", h.TableName).Int("shardCount", len(shards)).Msg("responding to stream events")
	h.startShards(ctx, group, streamArn, shards, iteratorType)

	group.Go(func() error {
		refresh := h.ShardRefresh
		if refresh <= 0 {
			refresh = time.Minute
		}
		ticker := time.NewTicker(refresh)
		defer ticker.Stop()

		for {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
				shards, err := h.newShards(ctx, streamArn)
				if err != nil {
					h.Logger.Warn().Err(err).Msg("unable to refresh shards")
					continue
				}
				if len(shards) > 0 {
					h.Logger.Info().Int("shardCount", len(shards)).Msg("found new shards")
				}
				// shards created after start are read from their beginning
				h.startShards(ctx, group, streamArn, shards, dynamodbstreams.ShardIteratorTypeTrimHorizon)
			}
		}
	})

	return group.Wait()
}

func (h *Handler) startShards(ctx context.Context, group *errgroup.Group, streamArn *string, shards []*dynamodbstreams.Shard, iteratorType string) {
	for _, shard_ := range shards {
		shard := shard_
		group.Go(func() error {
			return h.readShard(ctx, streamArn, shard, iteratorType)
		})
	}
}

// newShards describes the stream and returns the shards not seen before.
func (h *Handler) newShards(ctx context.Context, streamArn *string) ([]*dynamodbstreams.Shard, error) {
	var shards []*dynamodbstreams.Shard
	var lastShard *string
	for {
		ss, err := h.Streams.DescribeStreamWithContext(ctx, &dynamodbstreams.DescribeStreamInput{
			StreamArn:             streamArn,
			ExclusiveStartShardId: lastShard,
		})
		if err != nil {
			return nil, fmt.Errorf("unable to describe stream %v: %w", aws.StringValue(streamArn), err)
		}
		shards = append(shards, ss.StreamDescription.Shards...)
		if ss.StreamDescription.LastEvaluatedShardId == nil {
			break
		}
		lastShard = ss.StreamDescription.LastEvaluatedShardId
	}

	h.mu.Lock()
	defer h.mu.Unlock()
	if h.seen == nil {
		h.seen = map[string]struct{}{}
	}

	var fresh []*dynamodbstreams.Shard
	for _, shard := range shards {
		id := aws.StringValue(shard.ShardId)
		if _, ok := h.seen[id]; ok {
			continue
		}
		h.seen[id] = struct{}{}
		fresh = append(fresh, shard)
	}
	return fresh, nil
}

// maxBackoff caps the wait between failed stream reads.
const maxBackoff = 30 * time.Second

// readShard handles every record of shard until the shard closes. Failed
// stream calls are retried with backoff from a fresh iterator that resumes
// after the last handled record. A record that cannot be handled stops the
// reader.
func (h *Handler) readShard(ctx context.Context, streamArn *string, shard *dynamodbstreams.Shard, iteratorType string) error {
	pollInterval := h.PollInterval
	if pollInterval <= 0 {
		pollInterval = time.Second
	}

	var (
		iterator *string
		last     *string // sequence number of the last handled record
		failures int
	)
	for {
		if iterator == nil {
			input := &dynamodbstreams.GetShardIteratorInput{
				StreamArn:         streamArn,
				ShardId:           shard.ShardId,
				ShardIteratorType: aws.String(iteratorType),
			}
			if last != nil {
				input.ShardIteratorType = aws.String(dynamodbstreams.ShardIteratorTypeAfterSequenceNumber)
				input.SequenceNumber = last
			}
			it, err := h.Streams.GetShardIteratorWithContext(ctx, input)
			if err != nil {
				failures++
				if err := h.backoff(ctx, shard, pollInterval, failures, fmt.Errorf("unable to get shard iterator: %w", err)); err != nil {
					return err
				}
				continue
			}
			if it.ShardIterator == nil {
				break
			}
			iterator = it.ShardIterator
		}

		records, err := h.Streams.GetRecordsWithContext(ctx, &dynamodbstreams.GetRecordsInput{
			ShardIterator: iterator,
		})
		if err != nil {
			iterator = nil
			failures++
			if err := h.backoff(ctx, shard, pollInterval, failures, fmt.Errorf("unable to get records: %w", err)); err != nil {
				return err
			}
			continue
		}
		failures = 0

		for _, record := range records.Records {
			ddbr, err := decodeStreamRecord(record)
			if err != nil {
				return err
			}
			if err := h.HandleSingleRecord(ctx, ddbr); err != nil {
				return fmt.Errorf("error processing record %v: %w", ddbr.EventID, err)
			}
			if record.Dynamodb != nil && record.Dynamodb.SequenceNumber != nil {
				last = record.Dynamodb.SequenceNumber
			}
		}
		iterator = records.NextShardIterator
		if iterator == nil {
			break
		}

		if len(records.Records) == 0 {
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(pollInterval):
			}
		}
	}

	h.Logger.Debug().Str("shard", aws.StringValue(shard.ShardId)).Msg("shard closed")
	return nil
}

// backoff logs a failed stream read and waits before the next attempt,
// doubling from the poll interval up to maxBackoff.
func (h *Handler) backoff(ctx context.Context, shard *dynamodbstreams.Shard, base time.Duration, failures int, cause error) error {
	wait := base
	for i := 1; i < failures && wait < maxBackoff; i++ {
		wait *= 2
	}
	if wait > maxBackoff {
		wait = maxBackoff
	}

	h.Logger.Warn().Err(cause).
		Str("shard", aws.StringValue(shard.ShardId)).
		Int("failures", failures).
		Dur("wait", wait).
		Msg("stream read failed, retrying")

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-time.After(wait):
		return nil
	}
}

// decodeStreamRecord reserializes to the ddb event type, as it's nicer to
// work with.
func decodeStreamRecord(record *dynamodbstreams.Record) (ddb.Record, error) {
	raw, err := json.Marshal(record)
	if err != nil {
		return ddb.Record{}, fmt.Errorf("unable to marshal record: %w", err)
	}
	var ddbr ddb.Record
	if err := json.Unmarshal(raw, &ddbr); err != nil {
		return ddb.Record{}, fmt.Errorf("unable to unmarshal record: %w", err)
	}
	return ddbr, nil
}
