package sundaereport

import (
	"bytes"
	"context"
	"io"
	"strings"
	"sync"
	"testing"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/request"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/tj/assert"
)

type mockS3 struct {
	s3iface.S3API

	mu      sync.Mutex
	objects map[string][]byte
}

func (m *mockS3) PutObjectWithContext(_ aws.Context, input *s3.PutObjectInput, _ ...request.Option) (*s3.PutObjectOutput, error) {
	data, err := io.ReadAll(input.Body)
	if err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	m.objects[aws.StringValue(input.Key)] = data
	return &s3.PutObjectOutput{}, nil
}

// ListObjectsV2PagesWithContext returns one object per page to exercise
// paging.
func (m *mockS3) ListObjectsV2PagesWithContext(_ aws.Context, input *s3.ListObjectsV2Input, fn func(*s3.ListObjectsV2Output, bool) bool, _ ...request.Option) error {
	m.mu.Lock()
	var keys []string
	for key := range m.objects {
		if strings.HasPrefix(key, aws.StringValue(input.Prefix)) {
			keys = append(keys, key)
		}
	}
	m.mu.Unlock()

	for i, key := range keys {
		page := &s3.ListObjectsV2Output{Contents: []*s3.Object{{Key: aws.String(key)}}}
		if !fn(page, i == len(keys)-1) {
			break
		}
	}
	return nil
}

func (m *mockS3) GetObjectWithContext(_ aws.Context, input *s3.GetObjectInput, _ ...request.Option) (*s3.GetObjectOutput, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	return &s3.GetObjectOutput{Body: io.NopCloser(bytes.NewReader(m.objects[aws.StringValue(input.Key)]))}, nil
}

func TestGenerate(t *testing.T) {
	ctx := context.Background()
	api := &mockS3{objects: map[string][]byte{}}
	service := sundaecli.NewService("sundae-bus")

	ReportOpts.Bucket = "reports"
	defer func() { ReportOpts.Bucket = "" }()

	h := NewHandler(service, api, "stats", func(ctx context.Context) (interface{}, error) {
		return map[string]int{"connections": 3}, nil
	})
	assert.True(t, h.Enabled())
	assert.Nil(t, h.Generate(ctx))
	assert.Len(t, api.objects, 1)

	var got map[string]int
	key, err := GetLatest(ctx, api, "reports", "sundae-bus", "stats", &got)
	assert.Nil(t, err)
	assert.True(t, strings.HasPrefix(key, "sundae-bus/stats/"))
	assert.Equal(t, 3, got["connections"])
}

func TestGetRawAsOf(t *testing.T) {
	ctx := context.Background()
	now := time.Date(2024, 3, 9, 14, 0, 0, 0, time.UTC)
	api := &mockS3{objects: map[string][]byte{
		ReportKey("svc", "stats", now.AddDate(0, 0, -2).Add(-time.Hour)): []byte(`"older"`),
		ReportKey("svc", "stats", now.AddDate(0, 0, -2)):                 []byte(`"newest"`),
		ReportKey("svc", "other", now):                                   []byte(`"unrelated"`),
	}}

	data, key, err := GetRawAsOf(ctx, api, "reports", "svc", "stats", now)
	assert.Nil(t, err)
	assert.Equal(t, `"newest"`, string(data))
	assert.Equal(t, ReportKey("svc", "stats", now.AddDate(0, 0, -2)), key)

	_, _, err = GetRawAsOf(ctx, api, "reports", "svc", "stats", now.AddDate(0, 0, 10))
	assert.NotNil(t, err)
}

func TestReportKey(t *testing.T) {
	at := time.Date(2024, 3, 9, 14, 5, 6, 0, time.UTC)
	assert.Equal(t, "svc/stats/2024-03-09/14/2024-03-09-14:05:06.json", ReportKey("svc", "stats", at))
}

func TestDisabled(t *testing.T) {
	h := NewHandler(sundaecli.NewService("sundae-bus"), &mockS3{}, "stats", nil)
	assert.False(t, h.Enabled())
}
