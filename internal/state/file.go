package state

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
	"sort"
	"strings"
)

const (
	currentFile    = "state.json"
	historyFile    = "history.jsonl"
	checkpointsDir = "checkpoints"
)

// FileBackend keeps a run directory on disk:
//
//	<dir>/state.json              current record, replaced atomically
//	<dir>/history.jsonl           one compact state per line
//	<dir>/checkpoints/<label>.json
type FileBackend struct {
	dir string
}

// NewFileBackend creates the run directory if needed.
func NewFileBackend(dir string) (*FileBackend, error) {
	if err := os.MkdirAll(filepath.Join(dir, checkpointsDir), 0755); err != nil {
		return nil, fmt.Errorf("failed to create state directory: %w", err)
	}
	return &FileBackend{dir: dir}, nil
}

// Dir returns the run directory.
func (b *FileBackend) Dir() string {
	return b.dir
}

func (b *FileBackend) ReadCurrent(_ context.Context) ([]byte, error) {
	return readOrNotFound(filepath.Join(b.dir, currentFile))
}

func (b *FileBackend) WriteCurrent(_ context.Context, data []byte) error {
	return writeAtomic(filepath.Join(b.dir, currentFile), indent(data))
}

func (b *FileBackend) AppendHistory(_ context.Context, data []byte) error {
	var line bytes.Buffer
	if err := json.Compact(&line, data); err != nil {
		return fmt.Errorf("compact history record: %w", err)
	}
	line.WriteByte('\n')

	f, err := os.OpenFile(filepath.Join(b.dir, historyFile), os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return fmt.Errorf("failed to open history file: %w", err)
	}
	if _, err := f.Write(line.Bytes()); err != nil {
		f.Close()
		return fmt.Errorf("failed to append history: %w", err)
	}
	if err := f.Sync(); err != nil {
		f.Close()
		return fmt.Errorf("failed to sync history: %w", err)
	}
	return f.Close()
}

func (b *FileBackend) ReadHistory(_ context.Context) ([][]byte, error) {
	f, err := os.Open(filepath.Join(b.dir, historyFile))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to open history file: %w", err)
	}
	defer f.Close()

	var records [][]byte
	scanner := bufio.NewScanner(f)
	scanner.Buffer(make([]byte, 0, 64*1024), 64*1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		records = append(records, append([]byte(nil), line...))
	}
	if err := scanner.Err(); err != nil {
		return nil, fmt.Errorf("failed to read history: %w", err)
	}
	return records, nil
}

func (b *FileBackend) WriteCheckpoint(_ context.Context, label string, data []byte) error {
	if err := ValidateLabel(label); err != nil {
		return err
	}
	return writeExclusive(b.checkpointPath(label), indent(data))
}

func (b *FileBackend) ReadCheckpoint(_ context.Context, label string) ([]byte, error) {
	if err := ValidateLabel(label); err != nil {
		return nil, err
	}
	return readOrNotFound(b.checkpointPath(label))
}

func (b *FileBackend) ListCheckpoints(_ context.Context) ([]string, error) {
	entries, err := os.ReadDir(filepath.Join(b.dir, checkpointsDir))
	if err != nil {
		if os.IsNotExist(err) {
			return []string{}, nil
		}
		return nil, fmt.Errorf("failed to read checkpoint directory: %w", err)
	}

	labels := []string{}
	for _, entry := range entries {
		if !entry.IsDir() && filepath.Ext(entry.Name()) == ".json" {
			labels = append(labels, strings.TrimSuffix(entry.Name(), ".json"))
		}
	}
	sort.Strings(labels)
	return labels, nil
}

func (b *FileBackend) Close() error { return nil }

func (b *FileBackend) checkpointPath(label string) string {
	return filepath.Join(b.dir, checkpointsDir, label+".json")
}

func readOrNotFound(path string) ([]byte, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

// writeAtomic writes to a temp file in the same directory and renames it over path.
func writeAtomic(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("failed to replace %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeExclusive publishes data at path only if nothing is there yet. The
// hard link fails atomically when path exists.
func writeExclusive(path string, data []byte) error {
	tmpName, err := writeTemp(path, data)
	if err != nil {
		return err
	}
	defer os.Remove(tmpName)
	if err := os.Link(tmpName, path); err != nil {
		if os.IsExist(err) {
			return ErrCheckpointExists
		}
		return fmt.Errorf("failed to write %s: %w", filepath.Base(path), err)
	}
	return nil
}

// writeTemp writes a synced temp file next to path and returns its name.
func writeTemp(path string, data []byte) (string, error) {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".tmp-*")
	if err != nil {
		return "", fmt.Errorf("failed to create temp file: %w", err)
	}
	tmpName := tmp.Name()
	fail := func(what string, err error) (string, error) {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to %s temp file: %w", what, err)
	}

	if _, err := tmp.Write(data); err != nil {
		return fail("write", err)
	}
	if err := tmp.Sync(); err != nil {
		return fail("sync", err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return "", fmt.Errorf("failed to close temp file: %w", err)
	}
	return tmpName, nil
}

func indent(data []byte) []byte {
	var out bytes.Buffer
	if err := json.Indent(&out, data, "", "  "); err != nil {
		return data
	}
	return out.Bytes()
}
