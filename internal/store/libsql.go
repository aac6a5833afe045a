package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	_ "github.com/tursodatabase/go-libsql"

	"github.com/loomworks/loom/pkg/schema"
)

const defaultPageSize = 100

// querier is the subset of database/sql shared by *sql.DB and *sql.Tx, so
// every query method works identically inside and outside a transaction.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// LibSQLStore implements the Store interface using libSQL (embedded SQLite fork).
type LibSQLStore struct {
	db *sql.DB
	q  querier
}

// NewLibSQLStore opens a libSQL database at the given path and returns a Store.
// The path should be a file URI, e.g. "file:/path/to/db.db".
func NewLibSQLStore(dbPath string) (*LibSQLStore, error) {
	db, err := sql.Open("libsql", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open libsql: %w", err)
	}
	db.SetMaxOpenConns(1)

	// Apply connection-level PRAGMAs. Some PRAGMAs return rows so we use QueryRow.
	pragmas := []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA synchronous=NORMAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA cache_size=-20000",
		"PRAGMA foreign_keys=ON",
		"PRAGMA temp_store=MEMORY",
	}
	for _, p := range pragmas {
		var result string
		_ = db.QueryRow(p).Scan(&result)
	}

	return &LibSQLStore{db: db, q: db}, nil
}

// Close closes the database.
func (s *LibSQLStore) Close() error { return s.db.Close() }

// Migrate runs all pending database migrations.
func (s *LibSQLStore) Migrate(ctx context.Context) error {
	return runMigrations(ctx, s.db)
}

// Vacuum runs VACUUM on the database.
func (s *LibSQLStore) Vacuum(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, "VACUUM")
	return err
}

// InTx runs fn against a transaction-backed view of the store. Calling InTx
// on a view that is already transactional reuses the open transaction.
func (s *LibSQLStore) InTx(ctx context.Context, fn func(Store) error) error {
	if _, ok := s.q.(*sql.Tx); ok {
		return fn(s)
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	if err := fn(&LibSQLStore{db: s.db, q: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// --- Workflows ---

func (s *LibSQLStore) CreateWorkflow(ctx context.Context, wf *schema.Workflow) error {
	inputSchema, err := nullableMap(wf.InputSchema)
	if err != nil {
		return fmt.Errorf("marshal input_schema: %w", err)
	}
	outputSchema, err := nullableMap(wf.OutputSchema)
	if err != nil {
		return fmt.Errorf("marshal output_schema: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO workflows (id, name, description, workspace_id, input_schema, output_schema, created_by, created_at, updated_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		wf.ID, wf.Name, nullStr(wf.Description), wf.WorkspaceID,
		inputSchema, outputSchema, wf.CreatedBy,
		timeOrNow(wf.CreatedAt), timeOrNow(wf.UpdatedAt), nullTime(wf.DeletedAt),
	)
	return err
}

func (s *LibSQLStore) GetWorkflow(ctx context.Context, id string) (*schema.Workflow, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, name, description, workspace_id, input_schema, output_schema, created_by, created_at, updated_at, deleted_at
		 FROM workflows WHERE id = ? AND deleted_at IS NULL`, id,
	)
	wf, err := scanWorkflow(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("workflow", id)
	}
	return wf, err
}

func (s *LibSQLStore) ListWorkflows(ctx context.Context, filter WorkflowFilter) ([]*schema.Workflow, int, error) {
	where := []string{"deleted_at IS NULL"}
	var args []any
	if filter.WorkspaceID != "" {
		where = append(where, "workspace_id = ?")
		args = append(args, filter.WorkspaceID)
	}
	cond := strings.Join(where, " AND ")

	var total int
	if err := s.q.QueryRowContext(ctx,
		"SELECT COUNT(*) FROM workflows WHERE "+cond, args...,
	).Scan(&total); err != nil {
		return nil, 0, err
	}

	limit := filter.Limit
	if limit <= 0 {
		limit = defaultPageSize
	}
	query := fmt.Sprintf(
		`SELECT id, name, description, workspace_id, input_schema, output_schema, created_by, created_at, updated_at, deleted_at
		 FROM workflows WHERE %s ORDER BY created_at, id LIMIT %d OFFSET %d`,
		cond, limit, max(filter.Skip, 0),
	)
	rows, err := s.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	var workflows []*schema.Workflow
	for rows.Next() {
		wf, err := scanWorkflow(rows)
		if err != nil {
			return nil, 0, err
		}
		workflows = append(workflows, wf)
	}
	return workflows, total, rows.Err()
}

func (s *LibSQLStore) UpdateWorkflow(ctx context.Context, id string, update WorkflowUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Description != nil {
		sets = append(sets, "description = ?")
		args = append(args, nullStr(*update.Description))
	}
	if update.InputSchema != nil {
		v, err := nullableMap(*update.InputSchema)
		if err != nil {
			return fmt.Errorf("marshal input_schema: %w", err)
		}
		sets = append(sets, "input_schema = ?")
		args = append(args, v)
	}
	if update.OutputSchema != nil {
		v, err := nullableMap(*update.OutputSchema)
		if err != nil {
			return fmt.Errorf("marshal output_schema: %w", err)
		}
		sets = append(sets, "output_schema = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE workflows SET %s WHERE id = ? AND deleted_at IS NULL", strings.Join(sets, ", "))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) TouchWorkflow(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx,
		`UPDATE workflows SET updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		time.Now().UTC(), id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

func (s *LibSQLStore) SoftDeleteWorkflow(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE workflows SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "workflow", id)
}

// --- Nodes ---

func (s *LibSQLStore) CreateNode(ctx context.Context, node *schema.Node) error {
	config, err := nullableMap(node.Config)
	if err != nil {
		return fmt.Errorf("marshal config: %w", err)
	}
	position, err := nullableMap(node.Position)
	if err != nil {
		return fmt.Errorf("marshal position: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO nodes (id, workflow_id, type, name, config, position, created_at, updated_at, deleted_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		node.ID, node.WorkflowID, string(node.Type), node.Name, config, position,
		timeOrNow(node.CreatedAt), timeOrNow(node.UpdatedAt), nullTime(node.DeletedAt),
	)
	return err
}

func (s *LibSQLStore) GetNode(ctx context.Context, id string) (*schema.Node, error) {
	row := s.q.QueryRowContext(ctx,
		`SELECT id, workflow_id, type, name, config, position, created_at, updated_at, deleted_at
		 FROM nodes WHERE id = ? AND deleted_at IS NULL`, id,
	)
	node, err := scanNode(row)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("node", id)
	}
	return node, err
}

func (s *LibSQLStore) ListNodes(ctx context.Context, workflowID string) ([]*schema.Node, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, workflow_id, type, name, config, position, created_at, updated_at, deleted_at
		 FROM nodes WHERE workflow_id = ? AND deleted_at IS NULL ORDER BY created_at, id`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var nodes []*schema.Node
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

func (s *LibSQLStore) UpdateNode(ctx context.Context, id string, update NodeUpdate) error {
	var sets []string
	var args []any

	if update.Name != nil {
		sets = append(sets, "name = ?")
		args = append(args, *update.Name)
	}
	if update.Config != nil {
		v, err := nullableMap(*update.Config)
		if err != nil {
			return fmt.Errorf("marshal config: %w", err)
		}
		sets = append(sets, "config = ?")
		args = append(args, v)
	}
	if update.Position != nil {
		v, err := nullableMap(*update.Position)
		if err != nil {
			return fmt.Errorf("marshal position: %w", err)
		}
		sets = append(sets, "position = ?")
		args = append(args, v)
	}
	if len(sets) == 0 {
		return nil
	}
	sets = append(sets, "updated_at = ?")
	args = append(args, time.Now().UTC(), id)

	query := fmt.Sprintf("UPDATE nodes SET %s WHERE id = ? AND deleted_at IS NULL", strings.Join(sets, ", "))
	res, err := s.q.ExecContext(ctx, query, args...)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "node", id)
}

func (s *LibSQLStore) SoftDeleteNode(ctx context.Context, id string) error {
	now := time.Now().UTC()
	res, err := s.q.ExecContext(ctx,
		`UPDATE nodes SET deleted_at = ?, updated_at = ? WHERE id = ? AND deleted_at IS NULL`,
		now, now, id,
	)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "node", id)
}

func (s *LibSQLStore) SoftDeleteWorkflowNodes(ctx context.Context, workflowID string) error {
	now := time.Now().UTC()
	_, err := s.q.ExecContext(ctx,
		`UPDATE nodes SET deleted_at = ?, updated_at = ? WHERE workflow_id = ? AND deleted_at IS NULL`,
		now, now, workflowID,
	)
	return err
}

// --- Connections ---

func (s *LibSQLStore) CreateConnection(ctx context.Context, conn *schema.Connection) error {
	_, err := s.q.ExecContext(ctx,
		`INSERT INTO connections (id, workflow_id, source_node_id, target_node_id, source_output, target_input, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		conn.ID, conn.WorkflowID, conn.SourceNodeID, conn.TargetNodeID,
		conn.SourceOutput, conn.TargetInput, timeOrNow(conn.CreatedAt),
	)
	return err
}

func (s *LibSQLStore) GetConnection(ctx context.Context, id string) (*schema.Connection, error) {
	conn := &schema.Connection{}
	err := s.q.QueryRowContext(ctx,
		`SELECT id, workflow_id, source_node_id, target_node_id, source_output, target_input, created_at
		 FROM connections WHERE id = ?`, id,
	).Scan(&conn.ID, &conn.WorkflowID, &conn.SourceNodeID, &conn.TargetNodeID,
		&conn.SourceOutput, &conn.TargetInput, &conn.CreatedAt)
	if err == sql.ErrNoRows {
		return nil, storeNotFound("connection", id)
	}
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func (s *LibSQLStore) ListConnections(ctx context.Context, workflowID string) ([]*schema.Connection, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, workflow_id, source_node_id, target_node_id, source_output, target_input, created_at
		 FROM connections WHERE workflow_id = ? ORDER BY created_at, id`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var connections []*schema.Connection
	for rows.Next() {
		conn := &schema.Connection{}
		if err := rows.Scan(&conn.ID, &conn.WorkflowID, &conn.SourceNodeID, &conn.TargetNodeID,
			&conn.SourceOutput, &conn.TargetInput, &conn.CreatedAt); err != nil {
			return nil, err
		}
		connections = append(connections, conn)
	}
	return connections, rows.Err()
}

func (s *LibSQLStore) DeleteConnection(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM connections WHERE id = ?`, id)
	if err != nil {
		return err
	}
	return checkRowsAffected(res, "connection", id)
}

func (s *LibSQLStore) DeleteNodeConnections(ctx context.Context, nodeID string) error {
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM connections WHERE source_node_id = ? OR target_node_id = ?`, nodeID, nodeID,
	)
	return err
}

// --- Execution history ---

func (s *LibSQLStore) CreateExecutionRecord(ctx context.Context, rec *schema.ExecutionRecord) error {
	inputs, err := nullableMap(rec.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := nullableMap(rec.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO execution_records (id, workflow_id, inputs, outputs, status, error, started_at, completed_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.WorkflowID, inputs, outputs, string(rec.Status), nullStr(rec.Error),
		timeOrNow(rec.StartedAt), nullTime(rec.CompletedAt), rec.DurationMs,
	)
	return err
}

func (s *LibSQLStore) ListExecutionRecords(ctx context.Context, workflowID string) ([]*schema.ExecutionRecord, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, workflow_id, inputs, outputs, status, error, started_at, completed_at, duration_ms
		 FROM execution_records WHERE workflow_id = ? ORDER BY started_at DESC, id`, workflowID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*schema.ExecutionRecord
	for rows.Next() {
		rec := &schema.ExecutionRecord{}
		var inputs, outputs, errMsg sql.NullString
		var completedAt sql.NullTime
		var status string
		if err := rows.Scan(&rec.ID, &rec.WorkflowID, &inputs, &outputs, &status, &errMsg,
			&rec.StartedAt, &completedAt, &rec.DurationMs); err != nil {
			return nil, err
		}
		rec.Status = schema.ExecutionStatus(status)
		rec.Error = errMsg.String
		if rec.Inputs, err = mapOrNil(inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
		if rec.Outputs, err = mapOrNil(outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		if completedAt.Valid {
			rec.CompletedAt = &completedAt.Time
		}
		records = append(records, rec)
	}
	return records, rows.Err()
}

func (s *LibSQLStore) DeleteWorkflowExecutions(ctx context.Context, workflowID string) error {
	if _, err := s.q.ExecContext(ctx,
		`DELETE FROM node_execution_results WHERE execution_record_id IN
		 (SELECT id FROM execution_records WHERE workflow_id = ?)`, workflowID,
	); err != nil {
		return err
	}
	_, err := s.q.ExecContext(ctx,
		`DELETE FROM execution_records WHERE workflow_id = ?`, workflowID,
	)
	return err
}

func (s *LibSQLStore) CreateNodeExecutionResult(ctx context.Context, res *schema.NodeExecutionResult) error {
	inputs, err := nullableMap(res.Inputs)
	if err != nil {
		return fmt.Errorf("marshal inputs: %w", err)
	}
	outputs, err := nullableMap(res.Outputs)
	if err != nil {
		return fmt.Errorf("marshal outputs: %w", err)
	}
	_, err = s.q.ExecContext(ctx,
		`INSERT INTO node_execution_results (id, execution_record_id, node_id, status, inputs, outputs, error, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		res.ID, res.ExecutionRecordID, res.NodeID, string(res.Status),
		inputs, outputs, nullStr(res.Error), res.DurationMs,
	)
	return err
}

func (s *LibSQLStore) ListNodeExecutionResults(ctx context.Context, executionRecordID string) ([]*schema.NodeExecutionResult, error) {
	rows, err := s.q.QueryContext(ctx,
		`SELECT id, execution_record_id, node_id, status, inputs, outputs, error, duration_ms
		 FROM node_execution_results WHERE execution_record_id = ? ORDER BY id`, executionRecordID,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*schema.NodeExecutionResult
	for rows.Next() {
		res := &schema.NodeExecutionResult{}
		var inputs, outputs, errMsg sql.NullString
		var status string
		if err := rows.Scan(&res.ID, &res.ExecutionRecordID, &res.NodeID, &status,
			&inputs, &outputs, &errMsg, &res.DurationMs); err != nil {
			return nil, err
		}
		res.Status = schema.ExecutionStatus(status)
		res.Error = errMsg.String
		if res.Inputs, err = mapOrNil(inputs); err != nil {
			return nil, fmt.Errorf("unmarshal inputs: %w", err)
		}
		if res.Outputs, err = mapOrNil(outputs); err != nil {
			return nil, fmt.Errorf("unmarshal outputs: %w", err)
		}
		results = append(results, res)
	}
	return results, rows.Err()
}

// --- Scanning ---

// rowScanner abstracts *sql.Row and *sql.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (*schema.Workflow, error) {
	wf := &schema.Workflow{}
	var description, inputSchema, outputSchema sql.NullString
	var deletedAt sql.NullTime
	err := row.Scan(&wf.ID, &wf.Name, &description, &wf.WorkspaceID,
		&inputSchema, &outputSchema, &wf.CreatedBy, &wf.CreatedAt, &wf.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	wf.Description = description.String
	if wf.InputSchema, err = mapOrNil(inputSchema); err != nil {
		return nil, fmt.Errorf("unmarshal input_schema: %w", err)
	}
	if wf.OutputSchema, err = mapOrNil(outputSchema); err != nil {
		return nil, fmt.Errorf("unmarshal output_schema: %w", err)
	}
	if deletedAt.Valid {
		wf.DeletedAt = &deletedAt.Time
	}
	return wf, nil
}

func scanNode(row rowScanner) (*schema.Node, error) {
	node := &schema.Node{}
	var config, position sql.NullString
	var deletedAt sql.NullTime
	var nodeType string
	err := row.Scan(&node.ID, &node.WorkflowID, &nodeType, &node.Name,
		&config, &position, &node.CreatedAt, &node.UpdatedAt, &deletedAt)
	if err != nil {
		return nil, err
	}
	node.Type = schema.NodeType(nodeType)
	if node.Config, err = mapOrNil(config); err != nil {
		return nil, fmt.Errorf("unmarshal config: %w", err)
	}
	if node.Position, err = mapOrNil(position); err != nil {
		return nil, fmt.Errorf("unmarshal position: %w", err)
	}
	if deletedAt.Valid {
		node.DeletedAt = &deletedAt.Time
	}
	return node, nil
}

// --- Helpers ---

func storeNotFound(resource, id string) *schema.LoomError {
	return schema.NewErrorf(schema.ErrCodeNotFound, "%s %q not found", resource, id)
}

func checkRowsAffected(res sql.Result, resource, id string) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return storeNotFound(resource, id)
	}
	return nil
}

func timeOrNow(t time.Time) time.Time {
	if t.IsZero() {
		return time.Now().UTC()
	}
	return t
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return *t
}

func nullStr(s string) any {
	if s == "" {
		return nil
	}
	return s
}

// nullableMap marshals a map for storage, NULL when empty.
func nullableMap(m map[string]any) (any, error) {
	if len(m) == 0 {
		return nil, nil
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, err
	}
	return string(b), nil
}

// mapOrNil unmarshals a stored JSON column, nil when NULL or empty.
func mapOrNil(ns sql.NullString) (map[string]any, error) {
	if !ns.Valid || ns.String == "" {
		return nil, nil
	}
	var m map[string]any
	if err := json.Unmarshal([]byte(ns.String), &m); err != nil {
		return nil, err
	}
	return m, nil
}

var _ Store = (*LibSQLStore)(nil)
