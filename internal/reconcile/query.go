package reconcile

import (
	"context"
	"fmt"
	"strings"

	"github.com/alexanderramin/programs/internal/db"
)

// scopeFilter appends program and user filters for the given columns.
// An empty column name skips that filter.
func scopeFilter(programID, userID *int64, programCol, userCol string) (string, []any) {
	var b strings.Builder
	var args []any
	if programID != nil && programCol != "" {
		b.WriteString(" AND " + programCol + " = ?")
		args = append(args, *programID)
	}
	if userID != nil && userCol != "" {
		b.WriteString(" AND " + userCol + " = ?")
		args = append(args, *userID)
	}
	return b.String(), args
}

// queryInts runs a query whose columns are all integers and returns the
// rows. Rows are fully read and closed before returning, so callers may
// write afterwards on the same connection.
func queryInts(ctx context.Context, q db.DBTX, cols int, query string, args ...any) ([][]int64, error) {
	rows, err := q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying: %w", err)
	}
	defer rows.Close()

	var out [][]int64
	for rows.Next() {
		vals := make([]int64, cols)
		ptrs := make([]any, cols)
		for i := range vals {
			ptrs[i] = &vals[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, fmt.Errorf("scanning: %w", err)
		}
		out = append(out, vals)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating: %w", err)
	}
	return out, nil
}

// liveAllocation is the condition for an allocation a in program p that is
// inside its window at now. Binds now twice.
const liveAllocation = `a.archived = 0 AND p.archived = 0
	AND a.timestart <= ? AND (a.timeend IS NULL OR a.timeend > ?)`
