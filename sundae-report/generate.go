// Package sundaereport writes periodic JSON reports to S3 and reads them back.
package sundaereport

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"time"

	sundaecli "github.com/SundaeSwap-finance/sundae-bus/sundae-cli"
	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/aws/aws-sdk-go/service/s3/s3iface"
	"github.com/rs/zerolog"
)

type GenerateCallback func(ctx context.Context) (interface{}, error)

type Handler struct {
	service sundaecli.Service
	logger  zerolog.Logger
	s3      s3iface.S3API
	bucket  string

	reportName string

	generate GenerateCallback
}

func ReportKey(serviceName, reportName string, timestamp time.Time) string {
	return fmt.Sprintf("%v/%v/%v/%v/%v", serviceName, reportName, timestamp.Format("2006-01-02"), timestamp.Format("15"), timestamp.Format("2006-01-02-15:04:05.json"))
}

func NewHandler(
	service sundaecli.Service,
	api s3iface.S3API,
	reportName string,
	generate GenerateCallback,
) *Handler {
	return &Handler{
		service:    service,
		logger:     sundaecli.Logger(service),
		s3:         api,
		bucket:     ReportOpts.Bucket,
		reportName: reportName,
		generate:   generate,
	}
}

// Enabled reports whether a bucket was configured.
func (h *Handler) Enabled() bool {
	return h.bucket != ""
}

func (h *Handler) Generate(ctx context.Context) error {
	report, err := h.generate(ctx)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to generate report")
		return err
	}
	reportBytes, err := json.Marshal(report)
	if err != nil {
		h.logger.Warn().Err(err).Msg("failed to marshal report")
		return err
	}

	filename := ReportKey(h.service.Name, h.reportName, time.Now().UTC())
	h.logger.Debug().Str("bucket", h.bucket).Str("filename", filename).Int("size", len(reportBytes)).Msg("saving report to s3")
	_, err = h.s3.PutObjectWithContext(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(h.bucket),
		Body:        bytes.NewReader(reportBytes),
		Key:         aws.String(filename),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return fmt.Errorf("failed to save report %v: %w", filename, err)
	}
	return nil
}

const lookbackDays = 5

// latestKey returns the greatest key under prefix, or "" when there is none.
func latestKey(ctx context.Context, s3Api s3iface.S3API, bucket, prefix string) (string, error) {
	var latest string
	err := s3Api.ListObjectsV2PagesWithContext(ctx, &s3.ListObjectsV2Input{
		Bucket: aws.String(bucket),
		Prefix: aws.String(prefix),
	}, func(page *s3.ListObjectsV2Output, _ bool) bool {
		for _, object := range page.Contents {
			if key := aws.StringValue(object.Key); key > latest {
				latest = key
			}
		}
		return true
	})
	return latest, err
}

// GetRawAsOf returns the newest report written on timestamp's day, walking
// back a day at a time for up to lookbackDays days.
func GetRawAsOf(ctx context.Context, s3Api s3iface.S3API, bucket, serviceName, reportName string, timestamp time.Time) ([]byte, string, error) {
	for day := 0; day <= lookbackDays; day++ {
		prefix := fmt.Sprintf("%v/%v/%v", serviceName, reportName, timestamp.AddDate(0, 0, -day).Format("2006-01-02"))
		key, err := latestKey(ctx, s3Api, bucket, prefix)
		if err != nil {
			return nil, "", fmt.Errorf("failed to list %v reports under %v: %w", reportName, prefix, err)
		}
		if key == "" {
			continue
		}

		output, err := s3Api.GetObjectWithContext(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, "", fmt.Errorf("failed to get report %v: %w", key, err)
		}
		defer output.Body.Close()

		data, err := io.ReadAll(output.Body)
		if err != nil {
			return nil, "", fmt.Errorf("failed to read report %v: %w", key, err)
		}
		return data, key, nil
	}
	return nil, "", fmt.Errorf("no %v report in the %v days before %v", reportName, lookbackDays, timestamp.Format("2006-01-02"))
}

func GetLatest(ctx context.Context, s3Api s3iface.S3API, bucket, serviceName, reportName string, obj any) (string, error) {
	data, filename, err := GetRawAsOf(ctx, s3Api, bucket, serviceName, reportName, time.Now().UTC())
	if err != nil {
		return "", err
	}
	if err := json.Unmarshal(data, obj); err != nil {
		return "", fmt.Errorf("failed to unmarshal latest report: %w", err)
	}
	return filename, nil
}
