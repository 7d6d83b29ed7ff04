package blob

import (
	"context"
	"fmt"
	"io"
	"net/url"
	"strings"

	"github.com/google/uuid"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"
	"github.com/pkg/errors"

	"github.com/stashdav/stashdav/internal/config"
	"github.com/stashdav/stashdav/pkg/meta"
)

// S3Store talks to an S3-compatible object store through the minio client.
type S3Store struct {
	client *minio.Client
	bucket string
}

func NewS3(cfg config.S3) (*S3Store, error) {
	u, err := url.Parse(cfg.Endpoint)
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse s3 endpoint")
	}
	host := u.Host
	if host == "" {
		host = u.Path // endpoint given without a scheme
	}
	useSSL := u.Scheme != "http"
	client, err := minio.New(host, &minio.Options{
		Region: cfg.Region,
		Creds:  credentials.NewStaticV4(cfg.AccessKey, cfg.SecretKey, ""),
		Secure: useSSL,
	})
	if err != nil {
		return nil, errors.Wrap(err, "failed to setup s3 client")
	}
	return &S3Store{client: client, bucket: cfg.Bucket}, nil
}

func (s *S3Store) Put(ctx context.Context, key string, reader io.Reader, size int64) (string, error) {
	// never overwrite: an occupied key gets a suffixed sibling, and the
	// caller records the key actually written
	actual := key
	if taken, err := s.Exists(ctx, actual); err != nil {
		return "", err
	} else if taken {
		stem, ext := meta.SplitStem(key)
		actual = fmt.Sprintf("%s_%s%s", stem, uuid.NewString()[:8], ext)
	}
	opts := minio.PutObjectOptions{ContentType: meta.SniffMime(key)}
	if _, err := s.client.PutObject(ctx, s.bucket, actual, reader, size, opts); err != nil {
		return "", errors.Wrapf(err, "could not store object '%s' into bucket '%s'", actual, s.bucket)
	}
	return actual, nil
}

func (s *S3Store) Get(ctx context.Context, key string) (io.ReadCloser, error) {
	obj, err := s.client.GetObject(ctx, s.bucket, key, minio.GetObjectOptions{})
	if err != nil {
		return nil, errors.Wrapf(err, "could not download object '%s' from bucket '%s'", key, s.bucket)
	}
	return obj, nil
}

func (s *S3Store) GetRange(ctx context.Context, key string, off, length int64) (io.ReadCloser, error) {
	opts := minio.GetObjectOptions{}
	if err := opts.SetRange(off, off+length-1); err != nil {
		return nil, errors.Wrap(err, "invalid range")
	}
	obj, err := s.client.GetObject(ctx, s.bucket, key, opts)
	if err != nil {
		return nil, errors.Wrapf(err, "could not download range of object '%s' from bucket '%s'", key, s.bucket)
	}
	return obj, nil
}

func (s *S3Store) Copy(ctx context.Context, srcKey, dstKey string) error {
	src := minio.CopySrcOptions{Bucket: s.bucket, Object: srcKey}
	dst := minio.CopyDestOptions{Bucket: s.bucket, Object: dstKey}
	if _, err := s.client.CopyObject(ctx, dst, src); err != nil {
		return errors.Wrapf(err, "could not copy object '%s' to '%s' in bucket '%s'", srcKey, dstKey, s.bucket)
	}
	return nil
}

func (s *S3Store) Delete(ctx context.Context, key string) error {
	if err := s.client.RemoveObject(ctx, s.bucket, key, minio.RemoveObjectOptions{}); err != nil {
		return errors.Wrapf(err, "could not delete object '%s' from bucket '%s'", key, s.bucket)
	}
	return nil
}

func (s *S3Store) Exists(ctx context.Context, key string) (bool, error) {
	_, err := s.client.StatObject(ctx, s.bucket, key, minio.StatObjectOptions{})
	if err != nil {
		if resp := minio.ToErrorResponse(err); resp.Code == "NoSuchKey" {
			return false, nil
		}
		return false, errors.Wrapf(err, "could not stat object '%s' in bucket '%s'", key, s.bucket)
	}
	return true, nil
}

func (s *S3Store) List(ctx context.Context, prefix string) ([]string, error) {
	if prefix != "" && !strings.HasSuffix(prefix, "/") {
		prefix += "/"
	}
	var keys []string
	for obj := range s.client.ListObjects(ctx, s.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, errors.Wrapf(obj.Err, "could not list objects under '%s' in bucket '%s'", prefix, s.bucket)
		}
		keys = append(keys, obj.Key)
	}
	return keys, nil
}
