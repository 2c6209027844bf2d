package azure

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/streaming"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/to"
	"github.com/Azure/azure-sdk-for-go/sdk/azidentity"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/appendblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/bloberror"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/blockblob"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/container"
	"github.com/Azure/azure-sdk-for-go/sdk/storage/azblob/service"

	"github.com/stefando/largeFileUpload/internal/storage"
)

const URLTemplate = "https://%s.blob.core.windows.net/"

var ErrMissingContainer = errors.New("azure container is required")

type Params struct {
	StorageAccount   string
	StorageAccessKey string
	Container        string
	// Endpoint overrides the account URL, e.g. for Azurite.
	Endpoint   string
	TryTimeout time.Duration
}

// Adapter writes stream and chunk uploads to append blobs and parallel uploads to block blobs.
// Uncommitted blocks are garbage collected by the storage service, so there is no StalePurger.
type Adapter struct {
	container *container.Client
}

func NewAdapter(ctx context.Context, params Params) (*Adapter, error) {
	if params.Container == "" {
		return nil, ErrMissingContainer
	}
	svc, err := BuildAzureServiceClient(params)
	if err != nil {
		return nil, err
	}
	client := svc.NewContainerClient(params.Container)
	if _, err := client.Create(ctx, nil); err != nil && !bloberror.HasCode(err, bloberror.ContainerAlreadyExists) {
		return nil, fmt.Errorf("create container %s: %w", params.Container, err)
	}
	return &Adapter{container: client}, nil
}

func BuildAzureServiceClient(params Params) (*service.Client, error) {
	url := params.Endpoint
	if url == "" {
		url = fmt.Sprintf(URLTemplate, params.StorageAccount)
	}
	options := service.ClientOptions{ClientOptions: azcore.ClientOptions{Retry: policy.RetryOptions{TryTimeout: params.TryTimeout}}}
	if params.StorageAccessKey != "" {
		cred, err := service.NewSharedKeyCredential(params.StorageAccount, params.StorageAccessKey)
		if err != nil {
			return nil, fmt.Errorf("invalid credentials: %w", err)
		}
		return service.NewClientWithSharedKeyCredential(url, cred, &options)
	}

	defaultCreds, err := azidentity.NewDefaultAzureCredential(nil)
	if err != nil {
		return nil, fmt.Errorf("missing credentials: %w", err)
	}
	return service.NewClient(url, defaultCreds, &options)
}

func isErrNotFound(err error) bool {
	var responseErr *azcore.ResponseError
	return errors.As(err, &responseErr) && responseErr.ErrorCode == string(bloberror.BlobNotFound)
}

func (a *Adapter) EnsureExists(ctx context.Context, target string) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	_, err := a.container.NewAppendBlobClient(target).Create(ctx, &appendblob.CreateOptions{
		AccessConditions: &blob.AccessConditions{
			ModifiedAccessConditions: &blob.ModifiedAccessConditions{IfNoneMatch: to.Ptr(azcore.ETagAny)},
		},
	})
	if bloberror.HasCode(err, bloberror.BlobAlreadyExists) {
		return nil
	}
	return storage.NewError("ensure_exists", target, err)
}

func (a *Adapter) Append(ctx context.Context, target string, data []byte) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	_, err := a.container.NewAppendBlobClient(target).AppendBlock(ctx, streaming.NopCloser(bytes.NewReader(data)), nil)
	if isErrNotFound(err) {
		return storage.NewError("append", target, storage.ErrTargetNotFound)
	}
	return storage.NewError("append", target, err)
}

func (a *Adapter) StageBlock(ctx context.Context, target, id string, data []byte) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	_, err := a.container.NewBlockBlobClient(target).StageBlock(ctx, id, streaming.NopCloser(bytes.NewReader(data)), nil)
	return storage.NewError("stage_block", target, err)
}

func (a *Adapter) Commit(ctx context.Context, target string, ids []string) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	if err := storage.ValidateCommitIDs(ids); err != nil {
		return storage.NewError("commit", target, err)
	}
	client := a.container.NewBlockBlobClient(target)
	if len(ids) > 0 {
		if err := verifyStaged(ctx, client, ids); err != nil {
			return storage.NewError("commit", target, err)
		}
	}
	_, err := client.CommitBlockList(ctx, ids, nil)
	return storage.NewError("commit", target, err)
}

// verifyStaged fails with a storage sentinel instead of the service's InvalidBlockList so callers can tell
// an unknown target from an unknown block.
func verifyStaged(ctx context.Context, client *blockblob.Client, ids []string) error {
	resp, err := client.GetBlockList(ctx, blockblob.BlockListTypeUncommitted, nil)
	if isErrNotFound(err) {
		return storage.ErrTargetNotFound
	}
	if err != nil {
		return err
	}
	staged := make(map[string]struct{}, len(resp.UncommittedBlocks))
	for _, b := range resp.UncommittedBlocks {
		if b.Name != nil {
			staged[*b.Name] = struct{}{}
		}
	}
	for _, id := range ids {
		if _, ok := staged[id]; !ok {
			return fmt.Errorf("%w: %s", storage.ErrBlockNotStaged, id)
		}
	}
	return nil
}
