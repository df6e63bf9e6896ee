package ssis

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"strings"

	_ "github.com/microsoft/go-mssqldb" // SQL Server driver backing the SSIS catalog connection.
)

// Catalog is the read surface this package's tasks need against the
// SSIS catalog database: max execution id, new executions above a
// cursor, executions whose status differs from a given value, and new
// statistics above a per-execution cursor. Grounded on
// original_source/agents/ssis/database.py's query shapes, narrowed to
// an interface so tests substitute an in-memory fake instead of a real
// SQL Server connection.
type Catalog interface {
	MaxExecutionID(ctx context.Context) (int64, bool, error)
	ExecutionsAbove(ctx context.Context, id int64) ([]int64, error)
	ExecutionsByStatus(ctx context.Context, status ExecutionStatus, ids []int64) ([]Execution, error)
	StatisticsAbove(ctx context.Context, cursors map[int64]int64) ([]ExecutableStatistic, error)
}

// SQLCatalog implements Catalog against a live SQL Server connection
// via github.com/microsoft/go-mssqldb, the Go ecosystem analogue of
// the original's pyodbc connection to the same catalog database.
type SQLCatalog struct {
	db *sql.DB
}

// NewSQLCatalog opens a catalog connection using dsn, a
// go-mssqldb-formatted connection string.
func NewSQLCatalog(dsn string) (*SQLCatalog, error) {
	db, err := sql.Open("sqlserver", dsn)
	if err != nil {
		return nil, fmt.Errorf("open ssis catalog connection: %w", err)
	}
	return &SQLCatalog{db: db}, nil
}

func (c *SQLCatalog) Close() error { return c.db.Close() }

func (c *SQLCatalog) MaxExecutionID(ctx context.Context) (int64, bool, error) {
	row := c.db.QueryRowContext(ctx, `SELECT MAX([execution_id]) FROM [catalog].[executions]`)
	var id sql.NullInt64
	if err := row.Scan(&id); err != nil {
		return 0, false, err
	}
	if !id.Valid {
		return 0, false, nil
	}
	return id.Int64, true, nil
}

func (c *SQLCatalog) ExecutionsAbove(ctx context.Context, id int64) ([]int64, error) {
	rows, err := c.db.QueryContext(ctx, `SELECT [execution_id] FROM [catalog].[executions] WHERE [execution_id] > @p1`, id)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []int64
	for rows.Next() {
		var v int64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func (c *SQLCatalog) ExecutionsByStatus(ctx context.Context, status ExecutionStatus, ids []int64) ([]Execution, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	placeholders := make([]string, len(ids))
	args := make([]any, 0, len(ids)+1)
	for i, id := range ids {
		placeholders[i] = fmt.Sprintf("@p%d", i+2)
		args = append(args, id)
	}
	args = append([]any{int(status)}, args...)

	query := fmt.Sprintf(`
		SELECT [execution_id], [status], [start_time], [end_time], [folder_name], [project_name], [package_name]
		FROM [catalog].[executions]
		WHERE [execution_id] IN (%s) AND [status] != @p1
	`, strings.Join(placeholders, ", "))

	rows, err := c.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Execution
	for rows.Next() {
		var e Execution
		var status int
		var endTime sql.NullTime
		if err := rows.Scan(&e.ExecutionID, &status, &e.StartTime, &endTime, &e.FolderName, &e.ProjectName, &e.PackageName); err != nil {
			return nil, err
		}
		e.Status = ExecutionStatus(status)
		if endTime.Valid {
			e.EndTime = &endTime.Time
		}
		out = append(out, e)
	}
	return out, rows.Err()
}

func (c *SQLCatalog) StatisticsAbove(ctx context.Context, cursors map[int64]int64) ([]ExecutableStatistic, error) {
	if len(cursors) == 0 {
		return nil, nil
	}
	clauses := make([]string, 0, len(cursors))
	for execID, cursor := range cursors {
		clauses = append(clauses, fmt.Sprintf("([es].[execution_id] = %d AND [es].[statistics_id] > %d)", execID, cursor))
	}

	query := fmt.Sprintf(`
		SELECT
			[statistics_id], [execution_path], [es].[start_time], [es].[end_time], [execution_result],
			[e].[execution_id], [folder_name], [project_name], [package_name]
		FROM [catalog].[executable_statistics] AS [es]
		JOIN [catalog].[executions] AS [e] ON [es].[execution_id] = [e].[execution_id]
		WHERE (%s)
		ORDER BY [statistics_id] ASC
	`, strings.Join(clauses, " OR "))

	rows, err := c.db.QueryContext(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []ExecutableStatistic
	for rows.Next() {
		var s ExecutableStatistic
		var result int
		if err := rows.Scan(&s.StatisticsID, &s.ExecutionPath, &s.StartTime, &s.EndTime, &result,
			&s.ExecutionID, &s.FolderName, &s.ProjectName, &s.PackageName); err != nil {
			return nil, err
		}
		s.ExecutionResult = StatisticResult(result)
		out = append(out, s)
	}
	return out, rows.Err()
}

// FakeCatalog is an in-memory Catalog used by tests in place of a real
// SQL Server connection; DATA-DOG/go-sqlmock is overkill for hand-rolled
// queries this shape, so a small in-memory fixture plays the role the
// teacher's sqlmock fakes play for its own database tests.
type FakeCatalog struct {
	Executions []Execution
	Statistics []ExecutableStatistic
}

func (f *FakeCatalog) MaxExecutionID(context.Context) (int64, bool, error) {
	if len(f.Executions) == 0 {
		return 0, false, nil
	}
	max := f.Executions[0].ExecutionID
	for _, e := range f.Executions {
		if e.ExecutionID > max {
			max = e.ExecutionID
		}
	}
	return max, true, nil
}

func (f *FakeCatalog) ExecutionsAbove(_ context.Context, id int64) ([]int64, error) {
	var out []int64
	for _, e := range f.Executions {
		if e.ExecutionID > id {
			out = append(out, e.ExecutionID)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out, nil
}

func (f *FakeCatalog) ExecutionsByStatus(_ context.Context, status ExecutionStatus, ids []int64) ([]Execution, error) {
	idSet := make(map[int64]bool, len(ids))
	for _, id := range ids {
		idSet[id] = true
	}
	var out []Execution
	for _, e := range f.Executions {
		if idSet[e.ExecutionID] && e.Status != status {
			out = append(out, e)
		}
	}
	return out, nil
}

func (f *FakeCatalog) StatisticsAbove(_ context.Context, cursors map[int64]int64) ([]ExecutableStatistic, error) {
	var out []ExecutableStatistic
	for _, s := range f.Statistics {
		cursor, ok := cursors[s.ExecutionID]
		if !ok || s.StatisticsID <= cursor {
			continue
		}
		out = append(out, s)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].StatisticsID < out[j].StatisticsID })
	return out, nil
}

var _ Catalog = (*SQLCatalog)(nil)
var _ Catalog = (*FakeCatalog)(nil)

// batches splits ids into chunks of at most size (§4.7 step 4's
// QUERY_BATCH_SIZE grouping for FindAddedStatistics).
func batches(ids []int64, size int) [][]int64 {
	var out [][]int64
	for len(ids) > 0 {
		n := size
		if n > len(ids) {
			n = len(ids)
		}
		out = append(out, ids[:n])
		ids = ids[n:]
	}
	return out
}
