package aggregate

import (
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5/pgconn"
)

// PartitionError marks a single partition that could not be computed or
// written. It is logged and counted; the batch continues.
type PartitionError struct {
	Partition string
	Reason    string
	Err       error
}

func (e *PartitionError) Error() string {
	if e.Err == nil {
		return fmt.Sprintf("aggregate: partition %s: %s", e.Partition, e.Reason)
	}
	return fmt.Sprintf("aggregate: partition %s: %s: %v", e.Partition, e.Reason, e.Err)
}

func (e *PartitionError) Unwrap() error { return e.Err }

// FatalError aborts the batch. Partitions already committed stay committed.
type FatalError struct {
	Op  string
	Err error
}

func (e *FatalError) Error() string {
	return fmt.Sprintf("aggregate: fatal: %s: %v", e.Op, e.Err)
}

func (e *FatalError) Unwrap() error { return e.Err }

// IsFatal reports whether err carries a FatalError.
func IsFatal(err error) bool {
	var fe *FatalError
	return errors.As(err, &fe)
}

// classifyWriteError separates rows Postgres refused (data exceptions and
// constraint violations, SQLSTATE classes 22 and 23) from infrastructure
// failures.
func classifyWriteError(partition string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && (strings.HasPrefix(pgErr.Code, "22") || strings.HasPrefix(pgErr.Code, "23")) {
		return &PartitionError{Partition: partition, Reason: "write rejected", Err: err}
	}
	return &FatalError{Op: "write " + partition, Err: err}
}
