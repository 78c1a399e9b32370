// Package objectstore stores dataset versions in an S3-compatible bucket
// under <dataset>/v<N>.csv.
package objectstore

import (
	"bytes"
	"context"
	"fmt"
	"sort"
	"strings"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/your-org/datasetingest/pkg/storage/versioned"
)

// Config contains the information required to talk to an object store.
type Config struct {
	Provider  string
	Endpoint  string
	Region    string
	Bucket    string
	AccessKey string
	SecretKey string
	UseSSL    bool
}

// New creates an object store backend based on the given configuration and
// makes sure the bucket exists.
func New(ctx context.Context, cfg Config) (*Backend, error) {
	switch cfg.Provider {
	case "minio", "s3":
	default:
		return nil, fmt.Errorf("unsupported object store provider: %s", cfg.Provider)
	}

	endpoint, secure := normalizeEndpoint(cfg.Endpoint, cfg.UseSSL)
	cl, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: secure,
		Region: cfg.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("init minio client: %w", err)
	}

	exists, err := cl.BucketExists(ctx, cfg.Bucket)
	if err != nil {
		return nil, fmt.Errorf("check bucket %s: %w", cfg.Bucket, err)
	}
	if !exists {
		if err := cl.MakeBucket(ctx, cfg.Bucket, minio.MakeBucketOptions{Region: cfg.Region}); err != nil {
			return nil, fmt.Errorf("create bucket %s: %w", cfg.Bucket, err)
		}
	}

	return &Backend{client: cl, bucket: cfg.Bucket}, nil
}

var _ versioned.Backend = (*Backend)(nil)

// Backend implements versioned.Backend on a bucket.
type Backend struct {
	client *minio.Client
	bucket string
}

// Versions lists version objects directly under the dataset prefix.
func (b *Backend) Versions(ctx context.Context, dataset string) ([]int, error) {
	var keys []string
	for obj := range b.client.ListObjects(ctx, b.bucket, minio.ListObjectsOptions{Prefix: dataset + "/"}) {
		if obj.Err != nil {
			return nil, fmt.Errorf("list objects: %w", obj.Err)
		}
		keys = append(keys, obj.Key)
	}
	return versionsFromKeys(dataset, keys), nil
}

// Write uploads a version object. The existence check and the upload are
// two requests, so exclusivity against writers outside this process is not
// guaranteed.
func (b *Backend) Write(ctx context.Context, dataset string, version int, data []byte, metadata map[string]string) (string, error) {
	key := ObjectKey(dataset, version)

	_, err := b.client.StatObject(ctx, b.bucket, key, minio.StatObjectOptions{})
	if err == nil {
		return "", versioned.ErrVersionExists
	}
	if minio.ToErrorResponse(err).Code != "NoSuchKey" {
		return "", fmt.Errorf("stat object: %w", err)
	}

	opts := minio.PutObjectOptions{
		UserMetadata: metadata,
		ContentType:  "text/csv",
	}
	if _, err := b.client.PutObject(ctx, b.bucket, key, bytes.NewReader(data), int64(len(data)), opts); err != nil {
		return "", fmt.Errorf("put object: %w", err)
	}
	return Location(b.bucket, key), nil
}

// Close is a no-op; the minio client holds no long-lived connections that
// need explicit release.
func (b *Backend) Close() error {
	return nil
}

// ObjectKey is the bucket key of a dataset version.
func ObjectKey(dataset string, version int) string {
	return dataset + "/" + versioned.FileName(version)
}

// Location is the URL-style location reported for a stored object.
func Location(bucket, key string) string {
	return "s3://" + bucket + "/" + key
}

func versionsFromKeys(dataset string, keys []string) []int {
	prefix := dataset + "/"
	var versions []int
	for _, key := range keys {
		name := strings.TrimPrefix(key, prefix)
		if name == key || strings.Contains(name, "/") {
			continue
		}
		if v, ok := versioned.ParseFileName(name); ok {
			versions = append(versions, v)
		}
	}
	sort.Ints(versions)
	return versions
}

// normalizeEndpoint strips a URL scheme, which minio.New does not accept,
// and lets an https scheme turn TLS on.
func normalizeEndpoint(endpoint string, useSSL bool) (string, bool) {
	switch {
	case strings.HasPrefix(endpoint, "https://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "https://"), "/"), true
	case strings.HasPrefix(endpoint, "http://"):
		return strings.TrimSuffix(strings.TrimPrefix(endpoint, "http://"), "/"), useSSL
	default:
		return strings.TrimSuffix(endpoint, "/"), useSSL
	}
}
