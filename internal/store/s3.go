package store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/tanq16/velodown/internal/utils"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, params *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, params *s3.PutObjectInput, optFns ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store keeps the state document as a single object, useful when several
// machines share one download queue definition.
type S3Store struct {
	client S3API
	bucket string
	key    string
}

func NewS3Store(client S3API, bucket, key string) *S3Store {
	if key == "" {
		key = "velodown/" + utils.StateFile
	}
	return &S3Store{client: client, bucket: bucket, key: key}
}

// NewS3StoreFromProfile loads AWS credentials from the named shared profile.
func NewS3StoreFromProfile(ctx context.Context, profile, bucket, key string) (*S3Store, error) {
	cfg, err := config.LoadDefaultConfig(ctx,
		config.WithSharedConfigProfile(profile),
		config.WithRetryMode("adaptive"),
	)
	if err != nil {
		return nil, fmt.Errorf("error loading AWS config: %w", err)
	}
	return NewS3Store(s3.NewFromConfig(cfg), bucket, key), nil
}

func (s *S3Store) Load(ctx context.Context) (utils.Snapshot, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return emptySnapshot(), nil
		}
		return emptySnapshot(), &utils.PersistenceError{Op: "load", Err: err}
	}
	defer out.Body.Close()
	data, err := io.ReadAll(out.Body)
	if err != nil {
		return emptySnapshot(), &utils.PersistenceError{Op: "load", Err: err}
	}
	return decode(data)
}

func (s *S3Store) Save(ctx context.Context, snap utils.Snapshot) error {
	data, err := encode(snap)
	if err != nil {
		return err
	}
	_, err = s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(s.bucket),
		Key:           aws.String(s.key),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
		ContentType:   aws.String("application/yaml"),
	})
	if err != nil {
		return &utils.PersistenceError{Op: "save", Err: err}
	}
	return nil
}
