package source

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"os"
	"strings"
	"sync"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
)

// DefaultOpener handles local paths, file:// URLs and s3://bucket/key URLs.
// The S3 client is built on first use from the default AWS credential chain.
var DefaultOpener Opener = &MultiOpener{}

// S3API is the subset of the S3 client used by MultiOpener.
type S3API interface {
	GetObject(ctx context.Context, in *s3.GetObjectInput, optFns ...func(*s3.Options)) (*s3.GetObjectOutput, error)
}

// MultiOpener dispatches on the address scheme.
type MultiOpener struct {
	// S3 overrides the lazily created client (tests, custom endpoints).
	S3 S3API

	once  sync.Once
	s3c   S3API
	s3err error
}

// Open implements Opener.
func (o *MultiOpener) Open(ctx context.Context, path string) (io.ReadCloser, error) {
	switch {
	case strings.HasPrefix(path, "s3://"):
		bucket, key, err := splitS3(path)
		if err != nil {
			return nil, err
		}
		client, err := o.s3Client(ctx)
		if err != nil {
			return nil, err
		}
		out, err := client.GetObject(ctx, &s3.GetObjectInput{
			Bucket: aws.String(bucket),
			Key:    aws.String(key),
		})
		if err != nil {
			return nil, fmt.Errorf("s3 get s3://%s/%s: %w", bucket, key, err)
		}
		return out.Body, nil

	case strings.HasPrefix(path, "file://"):
		u, err := url.Parse(path)
		if err != nil {
			return nil, fmt.Errorf("parse %q: %w", path, err)
		}
		p := u.Path
		if u.Host != "" && u.Host != "localhost" {
			p = u.Host + p
		}
		return os.Open(p)

	case strings.Contains(path, "://"):
		return nil, fmt.Errorf("unsupported source scheme in %q", path)
	}
	return os.Open(path)
}

func (o *MultiOpener) s3Client(ctx context.Context) (S3API, error) {
	if o.S3 != nil {
		return o.S3, nil
	}
	o.once.Do(func() {
		cfg, err := awsconfig.LoadDefaultConfig(ctx)
		if err != nil {
			o.s3err = fmt.Errorf("aws config: %w", err)
			return
		}
		o.s3c = s3.NewFromConfig(cfg)
	})
	return o.s3c, o.s3err
}

func splitS3(path string) (bucket, key string, err error) {
	u, err := url.Parse(path)
	if err != nil {
		return "", "", fmt.Errorf("parse %q: %w", path, err)
	}
	bucket = u.Host
	key = strings.TrimPrefix(u.Path, "/")
	if bucket == "" || key == "" {
		return "", "", fmt.Errorf("s3 address %q must be s3://bucket/key", path)
	}
	return bucket, key, nil
}
