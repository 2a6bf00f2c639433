package logdao

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync"
	"testing"
	"time"

	sundaebus "github.com/SundaeSwap-finance/sundae-bus/sundae-bus"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/tj/assert"
)

// withTable runs callback against fresh tables in DynamoDB Local, e.g.
// DDB_ENDPOINT=http://localhost:8000.
func withTable(t *testing.T, callback func(ctx context.Context, dao *DAO)) {
	endpoint := os.Getenv("DDB_ENDPOINT")
	if endpoint == "" {
		t.Skip("DDB_ENDPOINT not set")
	}

	var (
		s = session.Must(session.NewSession(aws.NewConfig().
			WithCredentials(credentials.NewStaticCredentials("blah", "blah", "")).
			WithEndpoint(endpoint).
			WithRegion("us-west-2")))
		api    = dynamodb.New(s)
		suffix = time.Now().UnixNano()
		dao    = New(api, fmt.Sprintf("messages-%v", suffix), fmt.Sprintf("counters-%v", suffix))
	)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	err := dao.CreateTables(ctx)
	assert.Nil(t, err)
	defer dao.DeleteTables(ctx)

	callback(ctx, dao)
}

func TestDAO(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO) {
		tip, err := dao.Tip(ctx, "alice")
		assert.Nil(t, err)
		assert.EqualValues(t, 0, tip)

		rows, err := dao.Range(ctx, "alice", 0, 10)
		assert.Nil(t, err)
		assert.Len(t, rows, 0)

		for i := 0; i < 5; i++ {
			seq, err := dao.Append(ctx, "alice", fmt.Sprintf("k%v", i), []byte(fmt.Sprintf("bob|%v", i)))
			assert.Nil(t, err)
			assert.EqualValues(t, i+2, seq)
		}

		tip, err = dao.Tip(ctx, "alice")
		assert.Nil(t, err)
		assert.EqualValues(t, 6, tip)

		// newest rows first, returned ascending
		rows, err = dao.Range(ctx, "alice", 0, 2)
		assert.Nil(t, err)
		assert.Len(t, rows, 2)
		assert.EqualValues(t, 5, rows[0].Sequence)
		assert.EqualValues(t, 6, rows[1].Sequence)
		assert.Equal(t, "bob|4", string(rows[1].Body))

		rows, err = dao.Range(ctx, "alice", 4, 10)
		assert.Nil(t, err)
		assert.Len(t, rows, 3)
		assert.EqualValues(t, 4, rows[0].Sequence)
	})
}

func TestDAODuplicate(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO) {
		_, err := dao.Append(ctx, "alice", "same", []byte("a"))
		assert.Nil(t, err)

		_, err = dao.Append(ctx, "alice", "same", []byte("b"))
		assert.True(t, errors.Is(err, sundaebus.ErrDuplicate))

		// the rejected row leaves the counter untouched
		seq, err := dao.Append(ctx, "alice", "other", []byte("c"))
		assert.Nil(t, err)
		assert.EqualValues(t, 3, seq)
	})
}

func TestDAOConcurrentAppend(t *testing.T) {
	withTable(t, func(ctx context.Context, dao *DAO) {
		const n = 20
		var (
			wg   sync.WaitGroup
			mu   sync.Mutex
			seen = map[int64]bool{}
		)
		for i := 0; i < n; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				seq, err := dao.Append(ctx, "alice", fmt.Sprintf("k%v", i), nil)
				assert.Nil(t, err)
				mu.Lock()
				seen[seq] = true
				mu.Unlock()
			}(i)
		}
		wg.Wait()

		assert.Len(t, seen, n)
		for seq := int64(2); seq < n+2; seq++ {
			assert.True(t, seen[seq], "missing sequence %v", seq)
		}
	})
}

func TestAppendTransaction(t *testing.T) {
	ctx := context.Background()

	t.Run("first append starts after the sentinel", func(t *testing.T) {
		api := newMockDynamoDB()
		dao := New(api, "messages", "counters")

		for i := 0; i < 3; i++ {
			seq, err := dao.Append(ctx, "alice", fmt.Sprintf("k%v", i), []byte("bob|hi"))
			assert.Nil(t, err)
			assert.EqualValues(t, i+2, seq)
		}
		tip, err := dao.Tip(ctx, "alice")
		assert.Nil(t, err)
		assert.EqualValues(t, 4, tip)
	})

	t.Run("duplicate consumes no sequence", func(t *testing.T) {
		api := newMockDynamoDB()
		dao := New(api, "messages", "counters")

		_, err := dao.Append(ctx, "alice", "same", []byte("a"))
		assert.Nil(t, err)
		_, err = dao.Append(ctx, "alice", "same", []byte("b"))
		assert.True(t, errors.Is(err, sundaebus.ErrDuplicate))

		seq, err := dao.Append(ctx, "alice", "other", []byte("c"))
		assert.Nil(t, err)
		assert.EqualValues(t, 3, seq)
	})

	t.Run("append that loses the counter race retries behind the winner", func(t *testing.T) {
		api := newMockDynamoDB()
		dao := New(api, "messages", "counters")

		api.beforeCommit = func(attempt int) {
			if attempt != 1 {
				return
			}
			seq, err := dao.Append(ctx, "alice", "winner", []byte("w"))
			assert.Nil(t, err)
			assert.EqualValues(t, 2, seq)
		}

		seq, err := dao.Append(ctx, "alice", "loser", []byte("l"))
		assert.Nil(t, err)
		assert.EqualValues(t, 3, seq)
		assert.Equal(t, []int64{2, 3}, api.commits)
	})

	t.Run("concurrent appends commit in sequence order", func(t *testing.T) {
		api := newMockDynamoDB()
		dao := New(api, "messages", "counters")

		var wg sync.WaitGroup
		for i := 0; i < 8; i++ {
			wg.Add(1)
			go func(i int) {
				defer wg.Done()
				_, err := dao.Append(ctx, "alice", fmt.Sprintf("k%v", i), nil)
				assert.Nil(t, err)
			}(i)
		}
		wg.Wait()

		assert.Len(t, api.commits, 8)
		for i, seq := range api.commits {
			assert.EqualValues(t, i+2, seq)
		}
	})
}

func TestDecodeRecord(t *testing.T) {
	image, err := dynamodbattribute.MarshalMap(Record{
		DedupKey: "k1",
		StreamID: "alice",
		Sequence: 7,
		Body:     []byte("bob|hi"),
	})
	assert.Nil(t, err)

	msg, err := DecodeRecord(image)
	assert.Nil(t, err)
	assert.Equal(t, sundaebus.Message{DedupKey: "k1", StreamID: "alice", Sequence: 7, Body: []byte("bob|hi")}, msg)

	counter, err := dynamodbattribute.MarshalMap(Counter{StreamID: "alice", Sequence: 3})
	assert.Nil(t, err)
	_, err = DecodeRecord(counter)
	assert.NotNil(t, err)
}

func TestTableNames(t *testing.T) {
	assert.Equal(t, "prod-sundae-bus--messages", MessagesTableName("prod"))
	assert.Equal(t, "prod-sundae-bus--counters", CountersTableName("prod"))
}
