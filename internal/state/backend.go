package state

import (
	"context"
	stderrors "errors"
	"fmt"
	"regexp"
	"sort"

	"github.com/felixgeelhaar/orchestra/internal/domain"
)

var (
	// ErrNotFound is returned by backends for a missing current record or checkpoint.
	ErrNotFound = stderrors.New("not found")
	// ErrCheckpointExists is returned when a label is written twice.
	ErrCheckpointExists = stderrors.New("checkpoint already exists")
)

// Backend stores serialized workflow states: one current record, an
// append-only chronological history and a set of labeled checkpoints.
type Backend interface {
	ReadCurrent(ctx context.Context) ([]byte, error)
	// WriteCurrent replaces the current record atomically.
	WriteCurrent(ctx context.Context, data []byte) error
	AppendHistory(ctx context.Context, data []byte) error
	// ReadHistory returns history records oldest first.
	ReadHistory(ctx context.Context) ([][]byte, error)
	// WriteCheckpoint stores a new checkpoint. Checkpoints are immutable: an
	// existing label yields ErrCheckpointExists.
	WriteCheckpoint(ctx context.Context, label string, data []byte) error
	ReadCheckpoint(ctx context.Context, label string) ([]byte, error)
	// ListCheckpoints returns labels sorted alphabetically.
	ListCheckpoints(ctx context.Context) ([]string, error)
	Close() error
}

var labelPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._-]{0,199}$`)

// ValidateLabel rejects checkpoint labels that are not safe as file names.
func ValidateLabel(label string) error {
	if !labelPattern.MatchString(label) {
		return fmt.Errorf("invalid checkpoint label %q: use letters, digits, '.', '_' and '-'", label)
	}
	return nil
}

func sortIDs(ids []domain.ComponentID) {
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
}

func sortStrings(s []string) {
	sort.Strings(s)
}
