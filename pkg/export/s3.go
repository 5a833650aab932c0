package export

import (
	"bytes"
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/docker/go-units"
	"github.com/sirupsen/logrus"

	"github.com/agenteval/agenteval/pkg/config"
)

const preflightKey = ".agenteval-write-test"

// s3Exporter uploads run documents to S3-compatible storage.
type s3Exporter struct {
	log    logrus.FieldLogger
	cfg    *config.S3ExportConfig
	client *s3.Client
}

// Ensure interface compliance.
var _ Exporter = (*s3Exporter)(nil)

// NewS3Exporter creates an exporter for the configured bucket.
func NewS3Exporter(log logrus.FieldLogger, cfg *config.S3ExportConfig) Exporter {
	return &s3Exporter{
		log:    log.WithField("component", "s3-exporter"),
		cfg:    cfg,
		client: newS3Client(cfg),
	}
}

func newS3Client(cfg *config.S3ExportConfig) *s3.Client {
	return s3.New(s3.Options{}, func(o *s3.Options) {
		o.Region = "us-east-1"
		if cfg.Region != "" {
			o.Region = cfg.Region
		}

		if cfg.EndpointURL != "" {
			o.BaseEndpoint = aws.String(cfg.EndpointURL)
		}

		o.UsePathStyle = cfg.ForcePathStyle

		if cfg.AccessKeyID != "" && cfg.SecretAccessKey != "" {
			o.Credentials = credentials.NewStaticCredentialsProvider(
				cfg.AccessKeyID, cfg.SecretAccessKey, "",
			)
		}
	})
}

// Preflight writes a small marker object to fail fast on
// misconfiguration.
func (e *s3Exporter) Preflight(ctx context.Context) error {
	content := fmt.Sprintf("agenteval write test: %s", time.Now().UTC().Format(time.RFC3339))

	_, err := e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(e.key(preflightKey)),
		Body:        strings.NewReader(content),
		ContentType: aws.String("text/plain"),
	})
	if err != nil {
		return fmt.Errorf("writing test object to s3://%s: %w", e.cfg.Bucket, err)
	}

	return nil
}

func (e *s3Exporter) Export(ctx context.Context, doc *Document) (string, error) {
	data, err := encode(doc)
	if err != nil {
		return "", err
	}

	key := ObjectKey(e.cfg.Prefix, doc.Run.ID)

	_, err = e.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:      aws.String(e.cfg.Bucket),
		Key:         aws.String(key),
		Body:        bytes.NewReader(data),
		ContentType: aws.String("application/json"),
	})
	if err != nil {
		return "", fmt.Errorf("uploading %s: %w", key, err)
	}

	location := "s3://" + e.cfg.Bucket + "/" + key

	e.log.WithFields(logrus.Fields{
		"run_id":   doc.Run.ID,
		"location": location,
		"size":     units.HumanSize(float64(len(data))),
	}).Info("Run exported")

	return location, nil
}

func (e *s3Exporter) key(name string) string {
	prefix := strings.Trim(e.cfg.Prefix, "/")
	if prefix == "" {
		return name
	}

	return prefix + "/" + name
}
