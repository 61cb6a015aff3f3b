// Package s3store adapts Amazon S3 (and S3-compatible stores) to the
// store.Store interface.
package s3store

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go/aws"
	"github.com/aws/aws-sdk-go/aws/awserr"
	"github.com/aws/aws-sdk-go/aws/credentials"
	"github.com/aws/aws-sdk-go/aws/session"
	"github.com/aws/aws-sdk-go/service/s3"
	"github.com/xbrianh/flashflood/go/store"
)

// Config represents the fully merged endpoint configuration for S3.
type Config struct {
	Bucket             string
	Region             string
	AWSAccessKeyID     string
	AWSSecretAccessKey string
	// Endpoint overrides the S3 endpoint, for MinIO and other
	// S3-compatible stores. Empty uses AWS.
	Endpoint string
	// VerifyPuts waits for written objects to become visible before Put
	// returns, trading latency for read-after-write certainty.
	VerifyPuts bool
}

// Store is a store.Store backed by an S3 bucket.
type Store struct {
	svc    *s3.S3
	bucket string
	verify bool
}

// New connects to S3 and returns a Store over |config.Bucket|.
func New(config *Config) (*Store, error) {
	var c = aws.NewConfig().WithRegion(config.Region)

	if config.AWSAccessKeyID != "" {
		var creds = credentials.NewStaticCredentials(config.AWSAccessKeyID, config.AWSSecretAccessKey, "")
		c = c.WithCredentials(creds)
	}
	if config.Endpoint != "" {
		c = c.WithEndpoint(config.Endpoint).WithS3ForcePathStyle(true)
	}

	var awsSession, err = session.NewSession(c)
	if err != nil {
		return nil, fmt.Errorf("creating aws config: %w", err)
	}
	return &Store{
		svc:    s3.New(awsSession),
		bucket: config.Bucket,
		verify: config.VerifyPuts,
	}, nil
}

func (s *Store) Put(ctx context.Context, key string, data []byte, metadata map[string]string) error {
	var input = &s3.PutObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Body:   bytes.NewReader(data),
	}
	if len(metadata) != 0 {
		input.Metadata = aws.StringMap(metadata)
	}
	if _, err := s.svc.PutObjectWithContext(ctx, input); err != nil {
		return fmt.Errorf("putting %q: %w", key, err)
	}
	if s.verify {
		var err = s.svc.WaitUntilObjectExistsWithContext(ctx, &s3.HeadObjectInput{
			Bucket: aws.String(s.bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return fmt.Errorf("waiting for %q to exist: %w", key, err)
		}
	}
	return nil
}

func (s *Store) Get(ctx context.Context, key string) (io.ReadCloser, map[string]string, error) {
	var out, err = s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return nil, nil, fmt.Errorf("getting %q: %w", key, mapNotFound(err))
	}
	return out.Body, lowerKeys(aws.StringValueMap(out.Metadata)), nil
}

func (s *Store) GetRange(ctx context.Context, key string, first, last int64) ([]byte, error) {
	var out, err = s.svc.GetObjectWithContext(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
		Range:  aws.String(fmt.Sprintf("bytes=%d-%d", first, last)),
	})
	if err != nil {
		return nil, fmt.Errorf("getting range [%d, %d] of %q: %w", first, last, key, mapNotFound(err))
	}
	defer out.Body.Close()

	var data []byte
	if data, err = io.ReadAll(out.Body); err != nil {
		return nil, fmt.Errorf("reading range of %q: %w", key, err)
	}
	return data, nil
}

func (s *Store) List(ctx context.Context, prefix string) store.KeyIterator {
	return s.ListFrom(ctx, prefix, "")
}

func (s *Store) ListFrom(ctx context.Context, prefix, startAfter string) store.KeyIterator {
	var input = &s3.ListObjectsV2Input{
		Bucket: aws.String(s.bucket),
		Prefix: aws.String(prefix),
	}
	if startAfter != "" {
		input.StartAfter = aws.String(startAfter)
	}
	return &pageIterator{ctx: ctx, svc: s.svc, input: input}
}

func (s *Store) Delete(ctx context.Context, key string) error {
	var _, err = s.svc.DeleteObjectWithContext(ctx, &s3.DeleteObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		return fmt.Errorf("deleting %q: %w", key, err)
	}
	return nil
}

func (s *Store) DeleteBatch(ctx context.Context, keys []string) error {
	if len(keys) > store.MaxBatchDelete {
		return fmt.Errorf("batch of %d keys exceeds limit of %d", len(keys), store.MaxBatchDelete)
	} else if len(keys) == 0 {
		return nil
	}

	var objects = make([]*s3.ObjectIdentifier, len(keys))
	for i, key := range keys {
		objects[i] = &s3.ObjectIdentifier{Key: aws.String(key)}
	}
	var out, err = s.svc.DeleteObjectsWithContext(ctx, &s3.DeleteObjectsInput{
		Bucket: aws.String(s.bucket),
		Delete: &s3.Delete{Objects: objects, Quiet: aws.Bool(true)},
	})
	if err != nil {
		return fmt.Errorf("deleting batch of %d keys: %w", len(keys), err)
	}
	if len(out.Errors) != 0 {
		var e = out.Errors[0]
		return fmt.Errorf("deleting %q (and %d others): %s",
			aws.StringValue(e.Key), len(out.Errors)-1, aws.StringValue(e.Message))
	}
	return nil
}

func (s *Store) Presign(_ context.Context, key string, ttl time.Duration) (string, error) {
	var req, _ = s.svc.GetObjectRequest(&s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(key),
	})
	var url, err = req.Presign(ttl)
	if err != nil {
		return "", fmt.Errorf("presigning %q: %w", key, err)
	}
	return url, nil
}

// pageIterator walks ListObjectsV2 pages lazily, fetching the next page
// only once the current one is drained.
type pageIterator struct {
	ctx   context.Context
	svc   *s3.S3
	input *s3.ListObjectsV2Input
	page  []string
	key   string
	err   error
	done  bool
}

func (it *pageIterator) Next() bool {
	for len(it.page) == 0 {
		if it.done || it.err != nil {
			return false
		}
		it.fetch()
	}
	it.key, it.page = it.page[0], it.page[1:]
	return true
}

func (it *pageIterator) fetch() {
	var out, err = it.svc.ListObjectsV2WithContext(it.ctx, it.input)
	if err != nil {
		it.err = fmt.Errorf("listing %q: %w", aws.StringValue(it.input.Prefix), err)
		return
	}
	for _, obj := range out.Contents {
		it.page = append(it.page, aws.StringValue(obj.Key))
	}
	if aws.BoolValue(out.IsTruncated) {
		it.input.ContinuationToken = out.NextContinuationToken
		it.input.StartAfter = nil
	} else {
		it.done = true
	}
}

func (it *pageIterator) Key() string { return it.key }
func (it *pageIterator) Err() error  { return it.err }

// mapNotFound rewrites S3's not-found error codes into store.ErrNotExist.
func mapNotFound(err error) error {
	var aErr awserr.Error
	if errors.As(err, &aErr) {
		switch aErr.Code() {
		case s3.ErrCodeNoSuchKey, "NotFound":
			return store.ErrNotExist
		}
	}
	return err
}

// lowerKeys folds metadata keys to lower case. The SDK title-cases user
// metadata keys on reads, while writers supply them lower-cased.
func lowerKeys(m map[string]string) map[string]string {
	if len(m) == 0 {
		return nil
	}
	var out = make(map[string]string, len(m))
	for k, v := range m {
		out[strings.ToLower(k)] = v
	}
	return out
}

var _ store.Store = (*Store)(nil)
