package store

import (
	"bytes"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

// S3API is the subset of the S3 client used by S3Store.
type S3API interface {
	GetObject(ctx context.Context, input *s3.GetObjectInput, opts ...func(*s3.Options)) (*s3.GetObjectOutput, error)
	PutObject(ctx context.Context, input *s3.PutObjectInput, opts ...func(*s3.Options)) (*s3.PutObjectOutput, error)
}

// S3Store is the durable remote tier. Documents are stored gzip-compressed;
// reads fall back to plain content for objects written before compression
// was introduced.
type S3Store struct {
	client S3API
	bucket string
	prefix string
}

// S3Option configures an S3Store.
type S3Option func(*S3Store)

// WithS3Client sets a custom S3 client (useful for testing).
func WithS3Client(c S3API) S3Option {
	return func(s *S3Store) { s.client = c }
}

// NewS3 creates an S3-backed store.
func NewS3(ctx context.Context, bucket, prefix, region string, opts ...S3Option) (*S3Store, error) {
	if bucket == "" {
		return nil, fmt.Errorf("S3 bucket name required")
	}
	st := &S3Store{
		bucket: bucket,
		prefix: strings.TrimRight(prefix, "/"),
	}
	for _, o := range opts {
		o(st)
	}
	if st.client == nil {
		var loadOpts []func(*awsconfig.LoadOptions) error
		if region != "" {
			loadOpts = append(loadOpts, awsconfig.WithRegion(region))
		}
		cfg, err := awsconfig.LoadDefaultConfig(ctx, loadOpts...)
		if err != nil {
			return nil, fmt.Errorf("loading AWS config: %w", err)
		}
		st.client = s3.NewFromConfig(cfg)
	}
	return st, nil
}

func (s *S3Store) key(key string) string {
	if s.prefix == "" {
		return key
	}
	return s.prefix + "/" + key
}

// Get downloads and decompresses the document for key.
func (s *S3Store) Get(ctx context.Context, key string) ([]byte, bool, error) {
	out, err := s.client.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(s.bucket),
		Key:    aws.String(s.key(key)),
	})
	if err != nil {
		var noKey *s3types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, false, nil
		}
		return nil, false, fmt.Errorf("s3 get %s: %w", key, err)
	}
	defer out.Body.Close()

	raw, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, false, fmt.Errorf("reading s3 object %s: %w", key, err)
	}

	gz, err := gzip.NewReader(bytes.NewReader(raw))
	if err != nil {
		// Legacy uncompressed object.
		return raw, true, nil
	}
	defer gz.Close()
	doc, err := io.ReadAll(gz)
	if err != nil {
		return nil, false, fmt.Errorf("decompressing s3 object %s: %w", key, err)
	}
	return doc, true, nil
}

// Put gzip-compresses and uploads the document.
func (s *S3Store) Put(ctx context.Context, key string, doc []byte) error {
	var buf bytes.Buffer
	gz := gzip.NewWriter(&buf)
	if _, err := gz.Write(doc); err != nil {
		return fmt.Errorf("compressing %s: %w", key, err)
	}
	if err := gz.Close(); err != nil {
		return fmt.Errorf("compressing %s: %w", key, err)
	}

	_, err := s.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:          aws.String(s.bucket),
		Key:             aws.String(s.key(key)),
		Body:            bytes.NewReader(buf.Bytes()),
		ContentType:     aws.String("application/json"),
		ContentEncoding: aws.String("gzip"),
	})
	if err != nil {
		return fmt.Errorf("s3 put %s: %w", key, err)
	}
	return nil
}
