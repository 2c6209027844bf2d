package minio

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/url"
	"path"
	"strings"
	"time"

	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/stefando/largeFileUpload/internal/storage"
)

const stagingDirName = ".staging"

var (
	ErrMissingBucket      = errors.New("minio bucket is required")
	ErrMissingCredentials = errors.New("minio credentials are required")
)

type Params struct {
	Endpoint        string
	AccessKeyID     string
	SecretAccessKey string
	Bucket          string
	Region          string
	UseSSL          bool
	Prefix          string
}

// Adapter implements the staged-block capability set on any S3-compatible store reachable through minio-go.
type Adapter struct {
	client *minio.Client
	bucket string
	prefix string
}

func NewAdapter(ctx context.Context, params Params) (*Adapter, error) {
	if params.Bucket == "" {
		return nil, ErrMissingBucket
	}
	if params.AccessKeyID == "" || params.SecretAccessKey == "" {
		return nil, ErrMissingCredentials
	}
	endpoint, useSSL, err := parseEndpoint(params.Endpoint, params.UseSSL)
	if err != nil {
		return nil, err
	}
	client, err := minio.New(endpoint, &minio.Options{
		Creds:  credentials.NewStaticV4(params.AccessKeyID, params.SecretAccessKey, ""),
		Secure: useSSL,
		Region: params.Region,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create minio client: %w", err)
	}
	exists, err := client.BucketExists(ctx, params.Bucket)
	if err != nil {
		return nil, fmt.Errorf("bucket %s: %w", params.Bucket, err)
	}
	if !exists {
		if err := client.MakeBucket(ctx, params.Bucket, minio.MakeBucketOptions{Region: params.Region}); err != nil {
			return nil, fmt.Errorf("make bucket %s: %w", params.Bucket, err)
		}
	}
	return &Adapter{
		client: client,
		bucket: params.Bucket,
		prefix: strings.Trim(params.Prefix, "/"),
	}, nil
}

// parseEndpoint accepts both "host:port" and a URL; an https scheme forces SSL.
func parseEndpoint(endpoint string, useSSL bool) (string, bool, error) {
	if endpoint == "" {
		return "", false, fmt.Errorf("minio endpoint is required")
	}
	if !strings.Contains(endpoint, "://") {
		return endpoint, useSSL, nil
	}
	u, err := url.Parse(endpoint)
	if err != nil {
		return "", false, fmt.Errorf("invalid endpoint URL: %w", err)
	}
	if u.Scheme == "https" {
		useSSL = true
	}
	return u.Host, useSSL, nil
}

func (a *Adapter) objectKey(target string) string {
	return path.Join(a.prefix, target)
}

func (a *Adapter) stagingPrefix(target string) string {
	return path.Join(a.prefix, stagingDirName, target) + "/"
}

func (a *Adapter) blockKey(target, id string) string {
	return a.stagingPrefix(target) + hex.EncodeToString([]byte(id))
}

func (a *Adapter) StageBlock(ctx context.Context, target, id string, data []byte) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	_, err := a.client.PutObject(ctx, a.bucket, a.blockKey(target, id), bytes.NewReader(data), int64(len(data)),
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	return storage.NewError("stage_block", target, err)
}

func (a *Adapter) Commit(ctx context.Context, target string, ids []string) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	if err := storage.ValidateCommitIDs(ids); err != nil {
		return storage.NewError("commit", target, err)
	}
	staged, err := a.list(ctx, a.stagingPrefix(target))
	if err != nil {
		return storage.NewError("commit", target, err)
	}
	if len(staged) == 0 && len(ids) > 0 {
		return storage.NewError("commit", target, storage.ErrTargetNotFound)
	}
	keys := make([]string, len(ids))
	for i, id := range ids {
		keys[i] = a.blockKey(target, id)
		if _, ok := staged[keys[i]]; !ok {
			return storage.NewError("commit", target, fmt.Errorf("%w: %s", storage.ErrBlockNotStaged, id))
		}
	}

	body := &concatReader{ctx: ctx, client: a.client, bucket: a.bucket, keys: keys}
	defer body.Close()
	// size -1 makes minio-go switch to a streaming multipart upload
	_, err = a.client.PutObject(ctx, a.bucket, a.objectKey(target), body, -1,
		minio.PutObjectOptions{ContentType: "application/octet-stream"})
	if err != nil {
		return storage.NewError("commit", target, err)
	}
	// If removal fails prefer to skip the error: "only" wasted space, the janitor picks it up later.
	_, _ = a.remove(ctx, staged, time.Time{})
	return nil
}

func (a *Adapter) PurgeStale(ctx context.Context, olderThan time.Time) (int, error) {
	staged, err := a.list(ctx, path.Join(a.prefix, stagingDirName)+"/")
	if err != nil {
		return 0, err
	}
	return a.remove(ctx, staged, olderThan)
}

func (a *Adapter) list(ctx context.Context, prefix string) (map[string]time.Time, error) {
	objects := make(map[string]time.Time)
	for obj := range a.client.ListObjects(ctx, a.bucket, minio.ListObjectsOptions{Prefix: prefix, Recursive: true}) {
		if obj.Err != nil {
			return nil, obj.Err
		}
		objects[obj.Key] = obj.LastModified
	}
	return objects, nil
}

// remove deletes every listed object last modified before olderThan. A zero olderThan removes all of them.
func (a *Adapter) remove(ctx context.Context, objects map[string]time.Time, olderThan time.Time) (int, error) {
	var keys []string
	for key, modified := range objects {
		if olderThan.IsZero() || modified.Before(olderThan) {
			keys = append(keys, key)
		}
	}
	objectsCh := make(chan minio.ObjectInfo)
	go func() {
		defer close(objectsCh)
		for _, key := range keys {
			select {
			case objectsCh <- minio.ObjectInfo{Key: key}:
			case <-ctx.Done():
				return
			}
		}
	}()
	var firstErr error
	for rErr := range a.client.RemoveObjects(ctx, a.bucket, objectsCh, minio.RemoveObjectsOptions{}) {
		if firstErr == nil {
			firstErr = fmt.Errorf("remove %s: %w", rErr.ObjectName, rErr.Err)
		}
	}
	if firstErr != nil {
		return 0, firstErr
	}
	return len(keys), nil
}

func isErrNotFound(err error) bool {
	return minio.ToErrorResponse(err).Code == "NoSuchKey"
}

// concatReader reads the given objects back to back, opening each one only when the previous is drained.
type concatReader struct {
	ctx     context.Context
	client  *minio.Client
	bucket  string
	keys    []string
	current io.ReadCloser
}

func (r *concatReader) Read(p []byte) (int, error) {
	for {
		if r.current == nil {
			if len(r.keys) == 0 {
				return 0, io.EOF
			}
			obj, err := r.client.GetObject(r.ctx, r.bucket, r.keys[0], minio.GetObjectOptions{})
			if err != nil {
				return 0, fmt.Errorf("get staged block %s: %w", r.keys[0], err)
			}
			r.current = obj
			r.keys = r.keys[1:]
		}
		n, err := r.current.Read(p)
		if errors.Is(err, io.EOF) {
			_ = r.current.Close()
			r.current = nil
			if n > 0 {
				return n, nil
			}
			continue
		}
		if isErrNotFound(err) {
			err = fmt.Errorf("%w: %w", storage.ErrBlockNotStaged, err)
		}
		return n, err
	}
}

func (r *concatReader) Close() error {
	if r.current == nil {
		return nil
	}
	err := r.current.Close()
	r.current = nil
	return err
}
