package checkpoints

import (
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/tsawler/go-srgan/nets"
)

// Path returns the file a checkpoint of arch at epoch is stored under:
// <dir>/<arch key>-<epoch, 8 digits><ext>.
func Path(dir string, arch nets.Architecture, epoch int, format CheckpointFormat) string {
	return filepath.Join(dir, fmt.Sprintf("%s-%08d%s", arch.Key(), epoch, format.Extension()))
}

// Entry is one stored checkpoint file.
type Entry struct {
	Path  string
	Epoch int
}

// List returns the stored checkpoints for arch in dir, oldest first. A
// missing directory yields no entries.
func List(dir string, arch nets.Architecture, format CheckpointFormat) ([]Entry, error) {
	files, err := os.ReadDir(dir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	prefix := arch.Key() + "-"
	ext := format.Extension()

	var entries []Entry
	for _, f := range files {
		name := f.Name()
		if f.IsDir() || !strings.HasPrefix(name, prefix) || !strings.HasSuffix(name, ext) {
			continue
		}
		epoch, err := strconv.Atoi(strings.TrimSuffix(strings.TrimPrefix(name, prefix), ext))
		if err != nil {
			continue
		}
		entries = append(entries, Entry{Path: filepath.Join(dir, name), Epoch: epoch})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Epoch < entries[j].Epoch })
	return entries, nil
}

// Latest returns the most recent checkpoint for arch, or ok=false if none
// exists.
func Latest(dir string, arch nets.Architecture, format CheckpointFormat) (entry Entry, ok bool, err error) {
	entries, err := List(dir, arch, format)
	if err != nil || len(entries) == 0 {
		return Entry{}, false, err
	}
	return entries[len(entries)-1], true, nil
}

// Prune deletes all but the newest keep checkpoints for arch. keep <= 0
// keeps everything.
func Prune(dir string, arch nets.Architecture, format CheckpointFormat, keep int) error {
	if keep <= 0 {
		return nil
	}
	entries, err := List(dir, arch, format)
	if err != nil {
		return err
	}
	for len(entries) > keep {
		if err := os.Remove(entries[0].Path); err != nil {
			return fmt.Errorf("failed to remove old checkpoint %s: %w", entries[0].Path, err)
		}
		entries = entries[1:]
	}
	return nil
}
