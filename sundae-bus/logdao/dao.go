// Package logdao stores the durable message log in DynamoDB.
package logdao

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"time"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
	"github.com/rs/zerolog"
	"github.com/savaki/ddb"
)

const (
	streamIndex            = "StreamIndex"
	conditionalCheckFailed = "ConditionalCheckFailed"
)

// DAO implements sundaebus.Log on two tables: one row per message, and one
// counter per stream.
type DAO struct {
	api           dynamodbiface.DynamoDBAPI
	messages      *ddb.Table
	counters      *ddb.Table
	messagesTable string
	countersTable string
}

var _ sundaebus.Log = (*DAO)(nil)

func New(api dynamodbiface.DynamoDBAPI, messagesTable, countersTable string) *DAO {
	client := ddb.New(api)
	return &DAO{
		api:           api,
		messages:      client.MustTable(messagesTable, Record{}),
		counters:      client.MustTable(countersTable, Counter{}),
		messagesTable: messagesTable,
		countersTable: countersTable,
	}
}

// CreateTables creates both tables if they do not already exist.
func (d *DAO) CreateTables(ctx context.Context) error {
	if err := d.messages.CreateTableIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create table %v: %w", d.messagesTable, err)
	}
	if err := d.counters.CreateTableIfNotExists(ctx); err != nil {
		return fmt.Errorf("failed to create table %v: %w", d.countersTable, err)
	}
	return nil
}

// DeleteTables removes both tables.
func (d *DAO) DeleteTables(ctx context.Context) error {
	if err := d.messages.DeleteTableIfExists(ctx); err != nil {
		return err
	}
	return d.counters.DeleteTableIfExists(ctx)
}

// maxAttempts bounds how often Append retries after losing the counter race
// to a concurrent append on the same stream.
const maxAttempts = 32

// Append reserves the next sequence for the stream and inserts the row in one
// transaction. The counter write is conditioned on the value read, so rows of
// a stream commit in sequence order and a rejected row consumes no sequence.
func (d *DAO) Append(ctx context.Context, streamID, dedupKey string, body []byte) (seq int64, err error) {
	defer func(begin time.Time) {
		zerolog.Ctx(ctx).Debug().
			Dur("elapsed", time.Since(begin)).
			Err(err).
			Str("stream", streamID).
			Int64("seq", seq).
			Msg("appended message")
	}(time.Now())

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		prior, tipErr := d.Tip(ctx, streamID)
		if tipErr != nil {
			return 0, fmt.Errorf("%w: %v", sundaebus.ErrStorageUnavailable, tipErr)
		}

		seq, err = d.commit(ctx, streamID, dedupKey, body, prior)
		if err == nil {
			return seq, nil
		}
		if !errors.Is(err, errCounterMoved) {
			return 0, err
		}

		select {
		case <-ctx.Done():
			return 0, fmt.Errorf("%w: %v", sundaebus.ErrStorageUnavailable, ctx.Err())
		case <-time.After(backoff(attempt)):
		}
	}
	return 0, fmt.Errorf("%w: stream %v still contended after %v attempts", sundaebus.ErrConflict, streamID, maxAttempts)
}

var errCounterMoved = errors.New("counter moved")

func backoff(attempt int) time.Duration {
	if attempt > 10 {
		attempt = 10
	}
	return time.Duration(attempt) * 10 * time.Millisecond
}

// commit writes counter and row together. prior is the counter value read
// before the transaction; zero means the stream has no counter yet.
func (d *DAO) commit(ctx context.Context, streamID, dedupKey string, body []byte, prior int64) (int64, error) {
	next := prior + 1
	if prior < sundaebus.SentinelSequence {
		next = sundaebus.SentinelSequence + 1
	}

	counter, err := dynamodbattribute.MarshalMap(Counter{StreamID: streamID, Sequence: next})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal counter for stream %v: %w", streamID, err)
	}
	row, err := dynamodbattribute.MarshalMap(Record{
		DedupKey:  dedupKey,
		StreamID:  streamID,
		Sequence:  next,
		Body:      body,
		CreatedAt: time.Now().Unix(),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to marshal message %v: %w", dedupKey, err)
	}

	counterPut := &dynamodb.Put{
		TableName:           aws.String(d.countersTable),
		Item:                counter,
		ConditionExpression: aws.String("attribute_not_exists(pk)"),
	}
	if prior != 0 {
		counterPut.ConditionExpression = aws.String("#seq = :prior")
		counterPut.ExpressionAttributeNames = map[string]*string{"#seq": aws.String("seq")}
		counterPut.ExpressionAttributeValues = map[string]*dynamodb.AttributeValue{
			":prior": {N: aws.String(strconv.FormatInt(prior, 10))},
		}
	}

	_, err = d.api.TransactWriteItemsWithContext(ctx, &dynamodb.TransactWriteItemsInput{
		TransactItems: []*dynamodb.TransactWriteItem{
			{Put: counterPut},
			{Put: &dynamodb.Put{
				TableName:           aws.String(d.messagesTable),
				Item:                row,
				ConditionExpression: aws.String("attribute_not_exists(pk)"),
			}},
		},
	})
	if err == nil {
		return next, nil
	}

	var canceled *dynamodb.TransactionCanceledException
	if errors.As(err, &canceled) {
		reasons := canceled.CancellationReasons
		if len(reasons) > 1 && aws.StringValue(reasons[1].Code) == conditionalCheckFailed {
			return 0, fmt.Errorf("%w: %v", sundaebus.ErrDuplicate, dedupKey)
		}
		if len(reasons) > 0 && aws.StringValue(reasons[0].Code) == conditionalCheckFailed {
			return 0, errCounterMoved
		}
	}
	return 0, fmt.Errorf("%w: failed to insert message %v into stream %v: %v", sundaebus.ErrStorageUnavailable, dedupKey, streamID, err)
}

// Range returns the newest limit rows of the stream with sequence at least
// minSequence, in ascending order.
func (d *DAO) Range(ctx context.Context, streamID string, minSequence int64, limit int) ([]sundaebus.Message, error) {
	out, err := d.api.QueryWithContext(ctx, &dynamodb.QueryInput{
		TableName:              aws.String(d.messagesTable),
		IndexName:              aws.String(streamIndex),
		KeyConditionExpression: aws.String("stream_id = :stream AND seq >= :min"),
		ExpressionAttributeValues: map[string]*dynamodb.AttributeValue{
			":stream": {S: aws.String(streamID)},
			":min":    {N: aws.String(strconv.FormatInt(minSequence, 10))},
		},
		ScanIndexForward: aws.Bool(false),
		Limit:            aws.Int64(int64(limit)),
	})
	if err != nil {
		return nil, fmt.Errorf("%w: failed to query stream %v from %v: %v", sundaebus.ErrStorageUnavailable, streamID, minSequence, err)
	}

	var records []Record
	if err := dynamodbattribute.UnmarshalListOfMaps(out.Items, &records); err != nil {
		return nil, fmt.Errorf("failed to unmarshal stream %v: %w", streamID, err)
	}

	messages := make([]sundaebus.Message, len(records))
	for i, r := range records {
		messages[len(records)-1-i] = r.Message()
	}
	return messages, nil
}

// Tip returns the last sequence assigned to the stream, or zero when none
// has been.
func (d *DAO) Tip(ctx context.Context, streamID string) (int64, error) {
	out, err := d.api.GetItemWithContext(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(d.countersTable),
		Key: map[string]*dynamodb.AttributeValue{
			"pk": {S: aws.String(streamID)},
		},
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return 0, fmt.Errorf("failed to get counter for stream %v: %w", streamID, err)
	}
	if len(out.Item) == 0 {
		return 0, nil
	}

	var counter Counter
	if err := dynamodbattribute.UnmarshalMap(out.Item, &counter); err != nil {
		return 0, fmt.Errorf("failed to unmarshal counter for stream %v: %w", streamID, err)
	}
	return counter.Sequence, nil
}

func (r Record) Message() sundaebus.Message {
	return sundaebus.Message{
		DedupKey: r.DedupKey,
		StreamID: r.StreamID,
		Sequence: r.Sequence,
		Body:     r.Body,
	}
}

// DecodeRecord converts a stream image of a message row.
func DecodeRecord(image map[string]*dynamodb.AttributeValue) (sundaebus.Message, error) {
	var r Record
	if err := dynamodbattribute.UnmarshalMap(image, &r); err != nil {
		return sundaebus.Message{}, fmt.Errorf("unable to unmarshal message record: %w", err)
	}
	if r.StreamID == "" || r.Sequence == 0 {
		return sundaebus.Message{}, fmt.Errorf("message record %v is missing stream or sequence", r.DedupKey)
	}
	return r.Message(), nil
}
