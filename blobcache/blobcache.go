// Package blobcache is the optional content-addressed store used to
// revalidate media downloads across runs. Objects are keyed by the source
// URL with its scheme stripped and carry the upstream entity-tag as
// metadata, so a later run can issue conditional GETs against the origin.
package blobcache

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"strings"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"
	"github.com/containerd/log"
)

const etagMetadataKey = "etag"

// Object is a cached blob plus the etag and content type it was stored
// under.
type Object struct {
	Body        []byte
	ETag        string
	ContentType string
}

// Client talks to one S3-compatible bucket.
type Client struct {
	api    *s3.Client
	bucket string
}

// New builds a client for the given bucket. endpoint may be empty for plain
// AWS; anything else (minio, wasabi, ...) is used as the base endpoint with
// path-style addressing.
func New(ctx context.Context, endpoint, region, bucket string) (*Client, error) {
	if bucket == "" {
		return nil, fmt.Errorf("blob cache bucket name is required")
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("loading blob cache credentials: %w", err)
	}
	api := s3.NewFromConfig(cfg, func(o *s3.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
			o.UsePathStyle = true
		}
	})
	return &Client{api: api, bucket: bucket}, nil
}

// Get returns the cached object for key, or nil when the key is absent.
func (c *Client) Get(ctx context.Context, key string) (*Object, error) {
	out, err := c.api.GetObject(ctx, &s3.GetObjectInput{
		Bucket: aws.String(c.bucket),
		Key:    aws.String(key),
	})
	if err != nil {
		var noKey *types.NoSuchKey
		if errors.As(err, &noKey) {
			return nil, nil
		}
		return nil, fmt.Errorf("blob cache get %s: %w", key, err)
	}
	defer out.Body.Close()
	body, err := io.ReadAll(out.Body)
	if err != nil {
		return nil, fmt.Errorf("blob cache read %s: %w", key, err)
	}
	return &Object{
		Body:        body,
		ETag:        out.Metadata[etagMetadataKey],
		ContentType: aws.ToString(out.ContentType),
	}, nil
}

// Put stores body under key together with its upstream etag and content
// type, so a later 304 revalidation can reproduce the original response
// headers.
func (c *Client) Put(ctx context.Context, key string, body []byte, etag, contentType string) error {
	in := &s3.PutObjectInput{
		Bucket:   aws.String(c.bucket),
		Key:      aws.String(key),
		Body:     bytes.NewReader(body),
		Metadata: map[string]string{etagMetadataKey: etag},
	}
	if contentType != "" {
		in.ContentType = aws.String(contentType)
	}
	_, err := c.api.PutObject(ctx, in)
	if err != nil {
		return fmt.Errorf("blob cache put %s: %w", key, err)
	}
	log.G(ctx).WithFields(log.Fields{"key": key, "bytes": len(body)}).Debug("blob cache upload")
	return nil
}

// StripHTTP removes the scheme from a URL, yielding the cache key.
func StripHTTP(rawURL string) string {
	s := strings.TrimPrefix(rawURL, "https://")
	s = strings.TrimPrefix(s, "http://")
	return strings.TrimPrefix(s, "//")
}
