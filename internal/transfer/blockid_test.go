package transfer_test

import (
	"encoding/base64"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/transfer"
)

func TestBlockIDBijective(t *testing.T) {
	seen := make(map[transfer.BlockID]int)
	length := len(transfer.NewBlockID(0))
	for _, i := range []int{0, 1, 2, 9, 10, 99, 12345, 1 << 30} {
		id := transfer.NewBlockID(i)
		assert.Len(t, id, length, "ids must be fixed width")
		if prev, dup := seen[id]; dup {
			t.Fatalf("index %d and %d share id %s", prev, i, id)
		}
		seen[id] = i

		back, err := id.Index()
		require.NoError(t, err)
		assert.Equal(t, i, back)
	}
}

func TestBlockIDRejectsForeignValues(t *testing.T) {
	for _, id := range []transfer.BlockID{
		"",
		"not base64!",
		transfer.BlockID(base64.StdEncoding.EncodeToString([]byte("block-0000000001"))),
		transfer.BlockID(base64.StdEncoding.EncodeToString([]byte("unit-1"))),
		transfer.BlockID(base64.StdEncoding.EncodeToString([]byte("unit--000000001"))),
	} {
		_, err := id.Index()
		assert.ErrorIs(t, err, transfer.ErrInvalidBlockID, "id %q", id)
	}
}

func TestManifestValidate(t *testing.T) {
	good := transfer.Manifest{transfer.NewBlockID(0), transfer.NewBlockID(1), transfer.NewBlockID(2)}
	require.NoError(t, good.Validate(3))

	assert.ErrorIs(t, good.Validate(4), transfer.ErrInvalidManifest)
	swapped := transfer.Manifest{transfer.NewBlockID(1), transfer.NewBlockID(0), transfer.NewBlockID(2)}
	assert.ErrorIs(t, swapped.Validate(3), transfer.ErrInvalidManifest)
	dup := transfer.Manifest{transfer.NewBlockID(0), transfer.NewBlockID(0), transfer.NewBlockID(2)}
	assert.ErrorIs(t, dup.Validate(3), transfer.ErrInvalidManifest)
	gap := transfer.Manifest{transfer.NewBlockID(0), "", transfer.NewBlockID(2)}
	assert.ErrorIs(t, gap.Validate(3), transfer.ErrInvalidManifest)

	assert.Equal(t, []string{string(transfer.NewBlockID(0))}, transfer.Manifest{transfer.NewBlockID(0)}.Strings())
}
