package s3

import (
	"bytes"
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/feature/s3/manager"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	"github.com/aws/aws-sdk-go-v2/service/s3/types"

	"github.com/stefando/largeFileUpload/internal/storage"
)

const (
	stagingDirName   = ".staging"
	deleteBatchLimit = 1000
	defaultRegion    = "us-east-1"
)

var ErrMissingBucket = errors.New("s3 bucket is required")

type Params struct {
	Bucket          string
	Region          string
	Endpoint        string
	ForcePathStyle  bool
	Prefix          string
	AccessKeyID     string
	SecretAccessKey string
}

// Adapter implements the staged-block capability set on S3. Each block is a staging object; Commit streams
// the staging objects, in manifest order, into the final object through the multipart upload manager.
// S3 objects cannot be appended to, so Adapter is not an AppendSink.
type Adapter struct {
	client   *s3.Client
	uploader *manager.Uploader
	bucket   string
	prefix   string
}

func NewAdapter(ctx context.Context, params Params) (*Adapter, error) {
	if params.Bucket == "" {
		return nil, ErrMissingBucket
	}
	var opts []func(*config.LoadOptions) error
	if params.AccessKeyID != "" {
		opts = append(opts, config.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(params.AccessKeyID, params.SecretAccessKey, "")))
	}
	cfg, err := config.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	if params.Region != "" {
		cfg.Region = params.Region
	} else if cfg.Region == "" {
		cfg.Region = defaultRegion
	}
	client := s3.NewFromConfig(cfg, func(o *s3.Options) {
		o.UsePathStyle = params.ForcePathStyle
		if params.Endpoint != "" {
			o.BaseEndpoint = aws.String(params.Endpoint)
		}
	})
	return &Adapter{
		client:   client,
		uploader: manager.NewUploader(client),
		bucket:   params.Bucket,
		prefix:   strings.Trim(params.Prefix, "/"),
	}, nil
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
	_, err := a.client.PutObject(ctx, &s3.PutObjectInput{
		Bucket:        aws.String(a.bucket),
		Key:           aws.String(a.blockKey(target, id)),
		Body:          bytes.NewReader(data),
		ContentLength: aws.Int64(int64(len(data))),
	})
	return storage.NewError("stage_block", target, err)
}

func (a *Adapter) Commit(ctx context.Context, target string, ids []string) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	if err := storage.ValidateCommitIDs(ids); err != nil {
		return storage.NewError("commit", target, err)
	}
	staged, err := a.listStaged(ctx, target)
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
	_, err = a.uploader.Upload(ctx, &s3.PutObjectInput{
		Bucket: aws.String(a.bucket),
		Key:    aws.String(a.objectKey(target)),
		Body:   body,
	})
	if err != nil {
		return storage.NewError("commit", target, err)
	}

	stagedKeys := make([]string, 0, len(staged))
	for k := range staged {
		stagedKeys = append(stagedKeys, k)
	}
	// If removal fails prefer to skip the error: "only" wasted space, the janitor picks it up later.
	_ = a.deleteKeys(ctx, stagedKeys)
	return nil
}

func (a *Adapter) listStaged(ctx context.Context, target string) (map[string]time.Time, error) {
	staged := make(map[string]time.Time)
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(a.stagingPrefix(target)),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		for _, obj := range page.Contents {
			staged[aws.ToString(obj.Key)] = aws.ToTime(obj.LastModified)
		}
	}
	return staged, nil
}

func (a *Adapter) PurgeStale(ctx context.Context, olderThan time.Time) (int, error) {
	paginator := s3.NewListObjectsV2Paginator(a.client, &s3.ListObjectsV2Input{
		Bucket: aws.String(a.bucket),
		Prefix: aws.String(path.Join(a.prefix, stagingDirName) + "/"),
	})
	var stale []string
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return 0, err
		}
		for _, obj := range page.Contents {
			if aws.ToTime(obj.LastModified).Before(olderThan) {
				stale = append(stale, aws.ToString(obj.Key))
			}
		}
	}
	if err := a.deleteKeys(ctx, stale); err != nil {
		return 0, err
	}
	return len(stale), nil
}

func (a *Adapter) deleteKeys(ctx context.Context, keys []string) error {
	for len(keys) > 0 {
		n := min(len(keys), deleteBatchLimit)
		objects := make([]types.ObjectIdentifier, n)
		for i, k := range keys[:n] {
			objects[i] = types.ObjectIdentifier{Key: aws.String(k)}
		}
		_, err := a.client.DeleteObjects(ctx, &s3.DeleteObjectsInput{
			Bucket: aws.String(a.bucket),
			Delete: &types.Delete{Objects: objects, Quiet: aws.Bool(true)},
		})
		if err != nil {
			return err
		}
		keys = keys[n:]
	}
	return nil
}

// concatReader reads the given objects back to back, opening each one only when the previous is drained.
type concatReader struct {
	ctx     context.Context
	client  *s3.Client
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
			out, err := r.client.GetObject(r.ctx, &s3.GetObjectInput{
				Bucket: aws.String(r.bucket),
				Key:    aws.String(r.keys[0]),
			})
			if err != nil {
				return 0, fmt.Errorf("get staged block %s: %w", r.keys[0], err)
			}
			r.current = out.Body
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
