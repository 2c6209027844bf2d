package factory

import (
	"context"
	"fmt"

	"github.com/stefando/largeFileUpload/internal/config"
	"github.com/stefando/largeFileUpload/internal/logging"
	"github.com/stefando/largeFileUpload/internal/storage"
	"github.com/stefando/largeFileUpload/internal/storage/azure"
	"github.com/stefando/largeFileUpload/internal/storage/local"
	"github.com/stefando/largeFileUpload/internal/storage/mem"
	"github.com/stefando/largeFileUpload/internal/storage/minio"
	"github.com/stefando/largeFileUpload/internal/storage/s3"
)

// Backend holds the capability sets a blockstore supports. Append is nil for object stores that cannot
// append, Purger is nil when the store expires uncommitted blocks by itself.
type Backend struct {
	Type   string
	Append storage.AppendSink
	Blocks storage.StagedBlockSink
	Purger storage.StalePurger
}

func BuildBackend(ctx context.Context, c *config.Config) (*Backend, error) {
	blockstore := c.Blockstore.Type
	logging.FromContext(ctx).
		WithField("type", blockstore).
		Info("initialize blockstore adapter")
	switch blockstore {
	case storage.BlockstoreTypeMem:
		a := mem.New()
		return newBackend(blockstore, a, a, a), nil
	case storage.BlockstoreTypeLocal:
		p, err := c.GetBlockAdapterLocalPath()
		if err != nil {
			return nil, err
		}
		a, err := local.NewAdapter(p)
		if err != nil {
			return nil, fmt.Errorf("got error opening a local block adapter with path %s: %w", p, err)
		}
		logging.FromContext(ctx).WithFields(logging.Fields{
			"type": blockstore,
			"path": p,
		}).Info("initialized blockstore adapter")
		return newBackend(blockstore, a, a, a), nil
	case storage.BlockstoreTypeAzure:
		a, err := azure.NewAdapter(ctx, c.GetBlockAdapterAzureParams())
		if err != nil {
			return nil, err
		}
		return newBackend(blockstore, a, a, nil), nil
	case storage.BlockstoreTypeS3:
		a, err := s3.NewAdapter(ctx, c.GetBlockAdapterS3Params())
		if err != nil {
			return nil, err
		}
		return newBackend(blockstore, nil, a, a), nil
	case storage.BlockstoreTypeMinIO:
		a, err := minio.NewAdapter(ctx, c.GetBlockAdapterMinIOParams())
		if err != nil {
			return nil, err
		}
		return newBackend(blockstore, nil, a, a), nil
	default:
		return nil, fmt.Errorf("%w '%s' please choose one of %s", config.ErrUnknownBlockstore, blockstore,
			[]string{storage.BlockstoreTypeLocal, storage.BlockstoreTypeMem, storage.BlockstoreTypeAzure, storage.BlockstoreTypeS3, storage.BlockstoreTypeMinIO})
	}
}

func newBackend(blockstoreType string, appendSink storage.AppendSink, blocks storage.StagedBlockSink, purger storage.StalePurger) *Backend {
	b := &Backend{Type: blockstoreType, Purger: purger}
	if appendSink != nil {
		b.Append = storage.NewMetricsAppendSink(appendSink, blockstoreType)
	}
	if blocks != nil {
		b.Blocks = storage.NewMetricsBlockSink(blocks, blockstoreType)
	}
	return b
}
