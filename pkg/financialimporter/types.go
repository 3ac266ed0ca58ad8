package financialimporter

import (
	"errors"
	"fmt"
	"strings"

	"github.com/bcaldwell/expensior/pkg/transform"
)

var (
	ErrBatchExists           = errors.New("import batch already exists")
	ErrBatchNotFound         = errors.New("import batch not found")
	ErrInvalidConflictPolicy = errors.New("conflict policy must be ignore, replace or abort")
)

// ConflictPolicy decides what happens to a row whose id is already stored.
type ConflictPolicy string

const (
	// skip colliding ids silently
	ConflictIgnore ConflictPolicy = "ignore"
	// overwrite colliding rows
	ConflictReplace ConflictPolicy = "replace"
	// fail the whole batch on the first collision
	ConflictAbort ConflictPolicy = "abort"
)

func ParseConflictPolicy(s string) (ConflictPolicy, error) {
	switch p := ConflictPolicy(strings.ToLower(strings.TrimSpace(s))); p {
	case ConflictIgnore, ConflictReplace, ConflictAbort:
		return p, nil
	case "":
		return ConflictIgnore, nil
	default:
		return "", fmt.Errorf("%w: got %q", ErrInvalidConflictPolicy, s)
	}
}

const (
	StatusOK     = "ok"
	StatusFailed = "failed"
)

// Batch is one transformed source file.
type Batch struct {
	FileName     string
	Content      []byte
	Transactions []transform.Transaction
	Summary      transform.Summary
}

type ImportOptions struct {
	Policy ConflictPolicy
	DryRun bool
}

type ImportResult struct {
	BatchID   string
	FileName  string
	Status    string
	DryRun    bool
	Attempted int
	// rows written, colliding rows skipped under ignore are not counted
	Inserted int
	IDs      transform.Summary
}

func (r ImportResult) String() string {
	prefix := ""
	if r.DryRun {
		prefix = "[DRY] "
	}
	return fmt.Sprintf("%sbatch=%s file=%s rows=%d inserted=%d natural=%d synthetic=%d duplicates-in-file=%d",
		prefix, r.BatchID, r.FileName, r.Attempted, r.Inserted, r.IDs.Natural, r.IDs.Synthetic, r.IDs.Duplicate)
}
