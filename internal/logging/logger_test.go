package logging_test

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stefando/largeFileUpload/internal/logging"
)

func TestAddFieldsMergesWithoutSharing(t *testing.T) {
	base := logging.AddFields(context.Background(), logging.Fields{logging.OperationIDFieldKey: "op-1"})
	child := logging.AddFields(base, logging.Fields{logging.TargetFieldKey: "op-1.bin"})

	baseFields, ok := base.Value(logging.LogFieldsContextKey).(logging.Fields)
	require.True(t, ok)
	childFields, ok := child.Value(logging.LogFieldsContextKey).(logging.Fields)
	require.True(t, ok)

	assert.Equal(t, logging.Fields{logging.OperationIDFieldKey: "op-1"}, baseFields)
	assert.Equal(t, logging.Fields{
		logging.OperationIDFieldKey: "op-1",
		logging.TargetFieldKey:      "op-1.bin",
	}, childFields)
}

func TestFromContextWithoutFields(t *testing.T) {
	require.NotNil(t, logging.FromContext(context.Background()))
}

func TestContextFieldsReachRotatedFile(t *testing.T) {
	logFile := filepath.Join(t.TempDir(), "largefiles.log")
	logging.SetOutputFormat("json")
	logging.SetOutputs([]string{logFile}, 1, 1)
	t.Cleanup(func() {
		logging.SetOutputFormat("text")
		logging.SetOutputs([]string{"-"}, 0, 0)
	})

	ctx := logging.AddFields(context.Background(), logging.Fields{logging.TargetFieldKey: "a.bin"})
	logging.FromContext(ctx).WithField(logging.BlockIDFieldKey, "b-1").Info("block staged")

	data, err := os.ReadFile(logFile)
	require.NoError(t, err)
	var entry map[string]any
	require.NoError(t, json.Unmarshal(bytes.TrimSpace(data), &entry))
	assert.Equal(t, "block staged", entry["msg"])
	assert.Equal(t, "a.bin", entry[logging.TargetFieldKey])
	assert.Equal(t, "b-1", entry[logging.BlockIDFieldKey])
}
