// Package archive uploads applied artifacts to object storage.
package archive

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/pion/logging"
)

// putObjectAPI is the part of *s3.Client the archiver uses.
type putObjectAPI interface {
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// Artifact describes one applied file
type Artifact struct {
	Name   string
	Path   string
	SHA256 string
	CRC32  uint32
}

// S3Archiver stores artifacts under bucket/prefix.
type S3Archiver struct {
	client putObjectAPI
	bucket string
	prefix string
	log    logging.LeveledLogger
}

// New builds an archiver from the default AWS credential chain.
func New(ctx context.Context, bucket, prefix, region string, loggerFactory logging.LoggerFactory) (*S3Archiver, error) {
	var opts []func(*awsconfig.LoadOptions) error
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	awsCfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS configuration: %w", err)
	}
	return NewWithClient(s3.NewFromConfig(awsCfg), bucket, prefix, loggerFactory), nil
}

func NewWithClient(client putObjectAPI, bucket, prefix string, loggerFactory logging.LoggerFactory) *S3Archiver {
	return &S3Archiver{
		client: client,
		bucket: bucket,
		prefix: prefix,
		log:    loggerFactory.NewLogger("archive"),
	}
}

// Key returns the object key an artifact is stored under.
func (a *S3Archiver) Key(name string) string {
	return path.Join(a.prefix, name)
}

// Upload stores the artifact and returns its s3:// URI.
func (a *S3Archiver) Upload(ctx context.Context, art Artifact) (string, error) {
	if art.Name == "" {
		return "", errors.New("artifact name cannot be empty")
	}

	f, err := os.Open(art.Path)
	if err != nil {
		return "", fmt.Errorf("failed to open artifact: %w", err)
	}
	defer f.Close()

	stat, err := f.Stat()
	if err != nil {
		return "", fmt.Errorf("failed to stat artifact: %w", err)
	}

	key := a.Key(art.Name)
	metadata := map[string]string{"crc32": fmt.Sprintf("%08x", art.CRC32)}
	if art.SHA256 != "" {
		metadata["sha256"] = art.SHA256
	}

	_, err = a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(key),
		Body:          f,
		ContentLength: aws.Int64(stat.Size()),
		ContentType:   aws.String("application/octet-stream"),
		Metadata:      metadata,
	})
	if err != nil {
		a.log.Errorf("Failed to upload %s to bucket %s: %v", key, a.bucket, err)
		return "", fmt.Errorf("failed to upload artifact: %w", err)
	}

	uri := fmt.Sprintf("s3://%s/%s", a.bucket, key)
	a.log.Infof("Archived %s (%d bytes) to %s", art.Name, stat.Size(), uri)
	return uri, nil
}
