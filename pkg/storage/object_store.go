package storage

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
)

// ObjectStore provides access to blob storage for pitch files.
type ObjectStore interface {
	Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error
	// PublicURL returns the publicly resolvable address of key.
	PublicURL(key string) string
	Delete(ctx context.Context, key string) error
}

// MinioOptions configures a MinIO/S3 compatible bucket.
type MinioOptions struct {
	Endpoint  string
	AccessKey string
	SecretKey string
	Bucket    string
	UseSSL    bool
	// PublicBaseURL overrides the address prefix handed out for stored keys,
	// e.g. a CDN in front of the bucket.
	PublicBaseURL string
}

// MinioStore implements ObjectStore for MinIO/S3 compatible storage.
type MinioStore struct {
	client     *minio.Client
	bucket     string
	publicBase *url.URL
}

// NewMinioStore connects to MinIO and ensures the bucket exists. Unless a
// PublicBaseURL fronts the bucket, anonymous reads are granted on it so the
// addresses returned by PublicURL resolve without credentials.
func NewMinioStore(opts MinioOptions) (*MinioStore, error) {
	store, err := newMinioStore(opts)
	if err != nil {
		return nil, err
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	exists, err := store.client.BucketExists(ctx, store.bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket: %w", err)
	}
	if !exists {
		if err := store.client.MakeBucket(ctx, store.bucket, minio.MakeBucketOptions{}); err != nil {
			return nil, fmt.Errorf("create bucket: %w", err)
		}
	}
	if strings.TrimSpace(opts.PublicBaseURL) == "" {
		if err := store.client.SetBucketPolicy(ctx, store.bucket, publicReadPolicy(store.bucket)); err != nil {
			return nil, fmt.Errorf("set bucket policy: %w", err)
		}
	}
	return store, nil
}

type bucketPolicy struct {
	Version   string            `json:"Version"`
	Statement []policyStatement `json:"Statement"`
}

type policyStatement struct {
	Effect    string              `json:"Effect"`
	Principal map[string][]string `json:"Principal"`
	Action    []string            `json:"Action"`
	Resource  []string            `json:"Resource"`
}

// publicReadPolicy allows anonymous s3:GetObject on every object in bucket.
// Listing stays private.
func publicReadPolicy(bucket string) string {
	doc, _ := json.Marshal(bucketPolicy{
		Version: "2012-10-17",
		Statement: []policyStatement{{
			Effect:    "Allow",
			Principal: map[string][]string{"AWS": {"*"}},
			Action:    []string{"s3:GetObject"},
			Resource:  []string{"arn:aws:s3:::" + bucket + "/*"},
		}},
	})
	return string(doc)
}

func newMinioStore(opts MinioOptions) (*MinioStore, error) {
	client, err := minio.New(opts.Endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(opts.AccessKey, opts.SecretKey, ""),
		Secure: opts.UseSSL,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}
	var base *url.URL
	if raw := strings.TrimSpace(opts.PublicBaseURL); raw != "" {
		base, err = url.Parse(raw)
		if err != nil {
			return nil, fmt.Errorf("parse public base url: %w", err)
		}
	} else {
		endpoint := *client.EndpointURL()
		endpoint.Path = path.Join("/", opts.Bucket)
		base = &endpoint
	}
	return &MinioStore{client: client, bucket: opts.Bucket, publicBase: base}, nil
}

// Put uploads an object.
func (m *MinioStore) Put(ctx context.Context, key string, r io.Reader, size int64, contentType string) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, r, size, minio.PutObjectOptions{ContentType: contentType})
	if err != nil {
		return fmt.Errorf("put object: %w", err)
	}
	return nil
}

// PublicURL joins the public base with the escaped key.
func (m *MinioStore) PublicURL(key string) string {
	u := *m.publicBase
	u.Path = path.Join(u.Path, key)
	return u.String()
}

// Delete removes an object.
func (m *MinioStore) Delete(ctx context.Context, key string) error {
	if err := m.client.RemoveObject(ctx, m.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return fmt.Errorf("delete object: %w", err)
	}
	return nil
}
