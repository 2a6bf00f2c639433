package logdao

import (
	"sync"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/dynamodb"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbattribute"
	"github.com/aws/aws-sdk-go/service/dynamodb/dynamodbiface"
)

// mockDynamoDB keeps both tables in memory and evaluates the two condition
// expressions Append uses.
type mockDynamoDB struct {
	dynamodbiface.DynamoDBAPI

	// beforeCommit, when set, runs before each transaction is applied.
	beforeCommit func(attempt int)

	mu       sync.Mutex
	attempts int
	tables   map[string]map[string]map[string]*dynamodb.AttributeValue
	commits  []int64
}

func newMockDynamoDB() *mockDynamoDB {
	return &mockDynamoDB{tables: map[string]map[string]map[string]*dynamodb.AttributeValue{}}
}

func (m *mockDynamoDB) table(name string) map[string]map[string]*dynamodb.AttributeValue {
	t, ok := m.tables[name]
	if !ok {
		t = map[string]map[string]*dynamodb.AttributeValue{}
		m.tables[name] = t
	}
	return t
}

func (m *mockDynamoDB) GetItemWithContext(_ aws.Context, input *dynamodb.GetItemInput, _ ...request.Option) (*dynamodb.GetItemOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	item := m.table(aws.StringValue(input.TableName))[aws.StringValue(input.Key["pk"].S)]
	return &dynamodb.GetItemOutput{Item: item}, nil
}

func (m *mockDynamoDB) passes(put *dynamodb.Put) bool {
	existing, ok := m.table(aws.StringValue(put.TableName))[aws.StringValue(put.Item["pk"].S)]
	switch aws.StringValue(put.ConditionExpression) {
	case "attribute_not_exists(pk)":
		return !ok
	case "#seq = :prior":
		return ok && aws.StringValue(existing["seq"].N) == aws.StringValue(put.ExpressionAttributeValues[":prior"].N)
	default:
		return true
	}
}

func (m *mockDynamoDB) TransactWriteItemsWithContext(_ aws.Context, input *dynamodb.TransactWriteItemsInput, _ ...request.Option) (*dynamodb.TransactWriteItemsOutput, error) {
	m.mu.Lock()
	m.attempts++
	attempt := m.attempts
	m.mu.Unlock()
	if m.beforeCommit != nil {
		m.beforeCommit(attempt)
	}

	m.mu.Lock()
	defer m.mu.Unlock()

	var (
		reasons  []*dynamodb.CancellationReason
		canceled bool
	)
	for _, item := range input.TransactItems {
		code := "None"
		if !m.passes(item.Put) {
			code, canceled = conditionalCheckFailed, true
		}
		reasons = append(reasons, &dynamodb.CancellationReason{Code: aws.String(code)})
	}
	if canceled {
		return nil, &dynamodb.TransactionCanceledException{CancellationReasons: reasons}
	}

	for _, item := range input.TransactItems {
		put := item.Put
		m.table(aws.StringValue(put.TableName))[aws.StringValue(put.Item["pk"].S)] = put.Item
	}
	var r Record
	if err := dynamodbattribute.UnmarshalMap(input.TransactItems[1].Put.Item, &r); err == nil {
		m.commits = append(m.commits, r.Sequence)
	}
	return &dynamodb.TransactWriteItemsOutput{}, nil
}
