package mem_test

import (
	"testing"

	"github.com/stefando/largeFileUpload/internal/storage/mem"
	"github.com/stefando/largeFileUpload/internal/storage/sinktest"
)

func TestMemAdapter(t *testing.T) {
	sinktest.TestAdapter(t, func(t *testing.T) sinktest.Adapter {
		return mem.New()
	})
}
