package media

import (
	"bytes"
	"context"
	"fmt"
	"io"

	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// S3Store persists attachments to an S3 (or S3-compatible) bucket, used
// when the operator configures object storage instead of the default
// local media directory (spec §3 domain stack: aws-sdk-go-v2).
type S3Store struct {
	bucket   string
	client   *s3.Client
	uploader *manager.Uploader
}

// NewS3Store builds an S3Store using the default AWS credential chain
// (env vars, shared config, instance role) via config.LoadDefaultConfig.
func NewS3Store(ctx context.Context, bucket string) (*S3Store, error) {
	cfg, err := awsconfig.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("media: load AWS config: %w", err)
	}
	client := s3.NewFromConfig(cfg)
	return &S3Store{
		bucket:   bucket,
		client:   client,
		uploader: manager.NewUploader(client),
	}, nil
}

func (s *S3Store) Save(ctx context.Context, agentName, filename string, data []byte) (string, error) {
	key := agentName + "/" + filename
	_, err := s.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: &s.bucket,
		Key:    &key,
		Body:   bytes.NewReader(data),
	})
	if err != nil {
		return "", fmt.Errorf("media: s3 upload %s: %w", key, err)
	}
	return "s3://" + s.bucket + "/" + key, nil
}

func (s *S3Store) Open(ctx context.Context, source string) ([]byte, error) {
	bucket, key, err := parseS3URL(source)
	if err != nil {
		return nil, err
	}
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{Bucket: &bucket, Key: &key})
	if err != nil {
		return nil, fmt.Errorf("media: s3 get %s: %w", source, err)
	}
	defer out.Body.Close()
	return io.ReadAll(out.Body)
}

func parseS3URL(source string) (bucket, key string, err error) {
	const prefix = "s3://"
	if len(source) <= len(prefix) || source[:len(prefix)] != prefix {
		return "", "", fmt.Errorf("media: not an s3:// url: %s", source)
	}
	rest := source[len(prefix):]
	for i := 0; i < len(rest); i++ {
		if rest[i] == '/' {
			return rest[:i], rest[i+1:], nil
		}
	}
	return "", "", fmt.Errorf("media: malformed s3 url: %s", source)
}
