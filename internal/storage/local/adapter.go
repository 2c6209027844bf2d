package local

import (
	"context"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/stefando/largeFileUpload/internal/storage"
)

const stagingDirName = ".staging"

var ErrPathNotWritable = errors.New("path provided is not writable")

// Adapter stores targets as files under a root directory. Staged blocks live in
// <root>/.staging/<target>/<hex id> until committed.
type Adapter struct {
	path string
}

func NewAdapter(path string) (*Adapter, error) {
	// Clean() the path so that misconfiguration does not allow path traversal.
	path = filepath.Clean(path)
	if err := os.MkdirAll(filepath.Join(path, stagingDirName), 0o750); err != nil { //nolint: gomnd
		return nil, err
	}
	if !isDirectoryWritable(path) {
		return nil, ErrPathNotWritable
	}
	return &Adapter{path: path}, nil
}

func (l *Adapter) Path() string {
	return l.path
}

func (l *Adapter) targetPath(target string) (string, error) {
	if err := storage.ValidateTarget(target); err != nil {
		return "", err
	}
	return filepath.Join(l.path, target), nil
}

func (l *Adapter) stagingDir(target string) string {
	return filepath.Join(l.path, stagingDirName, target)
}

func (l *Adapter) blockPath(target, id string) string {
	return filepath.Join(l.stagingDir(target), hex.EncodeToString([]byte(id)))
}

func (l *Adapter) EnsureExists(_ context.Context, target string) error {
	p, err := l.targetPath(target)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_CREATE|os.O_WRONLY, 0o600) //nolint: gomnd
	if err != nil {
		return storage.NewError("ensure_exists", target, err)
	}
	return f.Close()
}

func (l *Adapter) Append(_ context.Context, target string, data []byte) error {
	p, err := l.targetPath(target)
	if err != nil {
		return err
	}
	f, err := os.OpenFile(p, os.O_APPEND|os.O_WRONLY, 0)
	if errors.Is(err, os.ErrNotExist) {
		return storage.NewError("append", target, storage.ErrTargetNotFound)
	}
	if err != nil {
		return storage.NewError("append", target, err)
	}
	defer func() {
		_ = f.Close()
	}()
	if _, err := f.Write(data); err != nil {
		return storage.NewError("append", target, err)
	}
	return storage.NewError("append", target, f.Sync())
}

// StageBlock writes the block to a temporary file and renames it into place, so a concurrent Commit never
// observes a partially written block.
func (l *Adapter) StageBlock(_ context.Context, target, id string, data []byte) error {
	if err := storage.ValidateTarget(target); err != nil {
		return err
	}
	dir := l.stagingDir(target)
	if err := os.MkdirAll(dir, 0o750); err != nil { //nolint: gomnd
		return storage.NewError("stage_block", target, err)
	}
	tmp, err := os.CreateTemp(dir, ".part-*")
	if err != nil {
		return storage.NewError("stage_block", target, err)
	}
	tmpName := tmp.Name()
	_, err = tmp.Write(data)
	if closeErr := tmp.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(tmpName, l.blockPath(target, id))
	}
	if err != nil {
		_ = os.Remove(tmpName)
		return storage.NewError("stage_block", target, err)
	}
	return nil
}

func (l *Adapter) Commit(_ context.Context, target string, ids []string) error {
	p, err := l.targetPath(target)
	if err != nil {
		return err
	}
	if err := storage.ValidateCommitIDs(ids); err != nil {
		return storage.NewError("commit", target, err)
	}
	dir := l.stagingDir(target)
	if _, err := os.Stat(dir); errors.Is(err, os.ErrNotExist) {
		if len(ids) > 0 {
			return storage.NewError("commit", target, storage.ErrTargetNotFound)
		}
	} else if err != nil {
		return storage.NewError("commit", target, err)
	}

	files := make([]*os.File, 0, len(ids))
	defer func() {
		for _, f := range files {
			_ = f.Close()
		}
	}()
	readers := make([]io.Reader, 0, len(ids))
	for _, id := range ids {
		f, err := os.Open(l.blockPath(target, id))
		if errors.Is(err, os.ErrNotExist) {
			return storage.NewError("commit", target, fmt.Errorf("%w: %s", storage.ErrBlockNotStaged, id))
		}
		if err != nil {
			return storage.NewError("commit", target, err)
		}
		files = append(files, f)
		readers = append(readers, f)
	}

	united, err := os.CreateTemp(l.path, ".commit-*")
	if err != nil {
		return storage.NewError("commit", target, err)
	}
	_, err = io.Copy(united, io.MultiReader(readers...))
	if closeErr := united.Close(); err == nil {
		err = closeErr
	}
	if err == nil {
		err = os.Rename(united.Name(), p)
	}
	if err != nil {
		_ = os.Remove(united.Name())
		return storage.NewError("commit", target, err)
	}
	// If removal fails prefer to skip the error: "only" wasted space, the janitor picks it up later.
	_ = os.RemoveAll(dir)
	return nil
}

func (l *Adapter) PurgeStale(ctx context.Context, olderThan time.Time) (int, error) {
	root := filepath.Join(l.path, stagingDirName)
	targets, err := os.ReadDir(root)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, t := range targets {
		if err := ctx.Err(); err != nil {
			return purged, err
		}
		if !t.IsDir() {
			continue
		}
		dir := filepath.Join(root, t.Name())
		n, err := purgeDir(dir, olderThan)
		purged += n
		if err != nil {
			return purged, err
		}
		removeIfEmpty(dir)
	}
	return purged, nil
}

func purgeDir(dir string, olderThan time.Time) (int, error) {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return 0, err
	}
	purged := 0
	for _, e := range entries {
		info, err := e.Info()
		if errors.Is(err, fs.ErrNotExist) {
			continue
		}
		if err != nil {
			return purged, err
		}
		if !info.ModTime().Before(olderThan) {
			continue
		}
		if err := os.Remove(filepath.Join(dir, e.Name())); err != nil && !errors.Is(err, fs.ErrNotExist) {
			return purged, err
		}
		if !strings.HasPrefix(e.Name(), ".") {
			purged++
		}
	}
	return purged, nil
}

func removeIfEmpty(dir string) {
	entries, err := os.ReadDir(dir)
	if err == nil && len(entries) == 0 {
		_ = os.Remove(dir)
	}
}

// Get reads the whole target. Intended for tests and small objects.
func (l *Adapter) Get(target string) ([]byte, bool) {
	p, err := l.targetPath(target)
	if err != nil {
		return nil, false
	}
	data, err := os.ReadFile(p)
	if err != nil {
		return nil, false
	}
	return data, true
}

// StagedCount returns how many completed blocks are staged for target.
func (l *Adapter) StagedCount(target string) int {
	entries, err := os.ReadDir(l.stagingDir(target))
	if err != nil {
		return 0
	}
	n := 0
	for _, e := range entries {
		if !strings.HasPrefix(e.Name(), ".") {
			n++
		}
	}
	return n
}

// this will be activated very few times during startup.
func isDirectoryWritable(pth string) bool {
	f, err := os.CreateTemp(pth, "dummy")
	if err != nil {
		return false
	}
	_ = f.Close()
	_ = os.Remove(f.Name())
	return true
}
