// Package store is the PostgreSQL-backed metadata store for profiles,
// proxies, workflows and executions.
package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"

	"github.com/tapsucode/stealthfleet/api/schemas"
)

var json = jsoniter.ConfigCompatibleWithStandardLibrary

// DBPool abstracts pgxpool.Pool so tests substitute pgxmock.
type DBPool interface {
	Ping(ctx context.Context) error
	Query(ctx context.Context, sql string, args ...interface{}) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...interface{}) pgx.Row
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// Store implements schemas.Store on PostgreSQL. Fingerprints, workflow
// content, results and progress live in JSONB columns; everything the
// engine filters or orders on is a plain column.
type Store struct {
	pool DBPool
	log  *zap.Logger
}

var _ schemas.Store = (*Store)(nil)

// New verifies connectivity and returns the store.
func New(ctx context.Context, pool DBPool, logger *zap.Logger) (*Store, error) {
	if err := pool.Ping(ctx); err != nil {
		return nil, fmt.Errorf("failed to ping database: %w", err)
	}
	return &Store{pool: pool, log: logger.Named("store")}, nil
}

const profileColumns = "id, user_id, name, fingerprint, proxy_id, status, last_used, created_at"

func (s *Store) FindProfileByID(ctx context.Context, id string) (*schemas.Profile, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+profileColumns+" FROM profiles WHERE id = $1", id)
	p, err := scanProfile(row)
	if err != nil {
		return nil, mapNotFound(err, "profile %s", id)
	}
	return p, nil
}

func (s *Store) UpdateProfileStatus(ctx context.Context, id string, status schemas.ProfileStatus, lastUsed time.Time) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE profiles SET status = $2, last_used = $3 WHERE id = $1",
		id, string(status), lastUsed.UTC())
	if err != nil {
		return fmt.Errorf("failed to update profile status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.NewError(schemas.KindNotFound, "profile %s not found", id)
	}
	return nil
}

func (s *Store) FindGroupMembers(ctx context.Context, groupID string) ([]schemas.Profile, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT p.id, p.user_id, p.name, p.fingerprint, p.proxy_id, p.status, p.last_used, p.created_at "+
			"FROM profiles p JOIN profile_group_members m ON m.profile_id = p.id "+
			"WHERE m.group_id = $1 ORDER BY m.position", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query group members: %w", err)
	}
	defer rows.Close()

	var members []schemas.Profile
	for rows.Next() {
		p, err := scanProfile(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan profile row: %w", err)
		}
		members = append(members, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read group members: %w", err)
	}
	if len(members) == 0 {
		return nil, schemas.NewError(schemas.KindNotFound, "profile group %s has no members or does not exist", groupID)
	}
	return members, nil
}

const proxyColumns = "id, host, port, protocol, username, password, status"

func (s *Store) FindProxyByID(ctx context.Context, id string) (*schemas.Proxy, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+proxyColumns+" FROM proxies WHERE id = $1", id)
	p, err := scanProxy(row)
	if err != nil {
		return nil, mapNotFound(err, "proxy %s", id)
	}
	return p, nil
}

func (s *Store) FindProxyByAddress(ctx context.Context, host string, port int) (*schemas.Proxy, error) {
	row := s.pool.QueryRow(ctx,
		"SELECT "+proxyColumns+" FROM proxies WHERE host = $1 AND port = $2", host, port)
	p, err := scanProxy(row)
	if err != nil {
		return nil, mapNotFound(err, "proxy %s:%d", host, port)
	}
	return p, nil
}

func (s *Store) CreateProxy(ctx context.Context, p *schemas.Proxy) error {
	_, err := s.pool.Exec(ctx,
		"INSERT INTO proxies (id, host, port, protocol, username, password, status) VALUES ($1, $2, $3, $4, $5, $6, $7)",
		p.ID, p.Host, p.Port, p.Protocol, p.Username, p.Password, string(p.Status))
	if err != nil {
		return fmt.Errorf("failed to create proxy: %w", err)
	}
	return nil
}

func (s *Store) UpdateProxyStatus(ctx context.Context, id string, status schemas.ProxyStatus) error {
	tag, err := s.pool.Exec(ctx,
		"UPDATE proxies SET status = $2 WHERE id = $1", id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update proxy status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.NewError(schemas.KindNotFound, "proxy %s not found", id)
	}
	return nil
}

func (s *Store) FindProxyGroupMembers(ctx context.Context, groupID string) ([]schemas.Proxy, error) {
	rows, err := s.pool.Query(ctx,
		"SELECT x.id, x.host, x.port, x.protocol, x.username, x.password, x.status "+
			"FROM proxies x JOIN proxy_group_members m ON m.proxy_id = x.id "+
			"WHERE m.group_id = $1 ORDER BY m.position", groupID)
	if err != nil {
		return nil, fmt.Errorf("failed to query proxy group members: %w", err)
	}
	defer rows.Close()

	var members []schemas.Proxy
	for rows.Next() {
		p, err := scanProxy(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan proxy row: %w", err)
		}
		members = append(members, *p)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to read proxy group members: %w", err)
	}
	if len(members) == 0 {
		return nil, schemas.NewError(schemas.KindNotFound, "proxy group %s has no members or does not exist", groupID)
	}
	return members, nil
}

func (s *Store) FindWorkflowByID(ctx context.Context, id string) (*schemas.Workflow, error) {
	var w schemas.Workflow
	err := s.pool.QueryRow(ctx,
		"SELECT id, name, description, content FROM workflows WHERE id = $1", id).
		Scan(&w.ID, &w.Name, &w.Description, &w.Content)
	if err != nil {
		return nil, mapNotFound(err, "workflow %s", id)
	}
	return &w, nil
}

func (s *Store) CreateExecution(ctx context.Context, ex *schemas.WorkflowExecution) error {
	results, progress, err := marshalExecutionBlobs(ex)
	if err != nil {
		return err
	}
	_, err = s.pool.Exec(ctx,
		"INSERT INTO executions (id, workflow_id, user_id, status, start_time, end_time, error, results, progress) "+
			"VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)",
		ex.ID, ex.WorkflowID, ex.UserID, string(ex.Status), ex.StartTime.UTC(), ex.EndTime, ex.Error, results, progress)
	if err != nil {
		return fmt.Errorf("failed to create execution: %w", err)
	}
	return nil
}

func (s *Store) UpdateExecution(ctx context.Context, ex *schemas.WorkflowExecution) error {
	results, progress, err := marshalExecutionBlobs(ex)
	if err != nil {
		return err
	}
	tag, err := s.pool.Exec(ctx,
		"UPDATE executions SET status = $2, end_time = $3, error = $4, results = $5, progress = $6 WHERE id = $1",
		ex.ID, string(ex.Status), ex.EndTime, ex.Error, results, progress)
	if err != nil {
		return fmt.Errorf("failed to update execution: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return schemas.NewError(schemas.KindNotFound, "execution %s not found", ex.ID)
	}
	return nil
}

func (s *Store) FindExecutionByID(ctx context.Context, id string) (*schemas.WorkflowExecution, error) {
	var (
		ex       schemas.WorkflowExecution
		status   string
		results  []byte
		progress []byte
	)
	err := s.pool.QueryRow(ctx,
		"SELECT id, workflow_id, user_id, status, start_time, end_time, error, results, progress FROM executions WHERE id = $1", id).
		Scan(&ex.ID, &ex.WorkflowID, &ex.UserID, &status, &ex.StartTime, &ex.EndTime, &ex.Error, &results, &progress)
	if err != nil {
		return nil, mapNotFound(err, "execution %s", id)
	}
	ex.Status = schemas.ExecutionStatus(status)
	if err := json.Unmarshal(results, &ex.Results); err != nil {
		return nil, fmt.Errorf("failed to decode execution results: %w", err)
	}
	if err := json.Unmarshal(progress, &ex.Progress); err != nil {
		return nil, fmt.Errorf("failed to decode execution progress: %w", err)
	}
	return &ex, nil
}

func marshalExecutionBlobs(ex *schemas.WorkflowExecution) ([]byte, []byte, error) {
	results, err := json.Marshal(ex.Results)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode execution results: %w", err)
	}
	progress, err := json.Marshal(ex.Progress)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to encode execution progress: %w", err)
	}
	return results, progress, nil
}

func scanProfile(row pgx.Row) (*schemas.Profile, error) {
	var (
		p           schemas.Profile
		fingerprint []byte
		proxyID     *string
		status      string
	)
	if err := row.Scan(&p.ID, &p.UserID, &p.Name, &fingerprint, &proxyID, &status, &p.LastUsed, &p.CreatedAt); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(fingerprint, &p.Fingerprint); err != nil {
		return nil, fmt.Errorf("failed to decode fingerprint: %w", err)
	}
	if proxyID != nil {
		p.ProxyID = *proxyID
	}
	p.Status = schemas.ProfileStatus(status)
	return &p, nil
}

func scanProxy(row pgx.Row) (*schemas.Proxy, error) {
	var (
		p      schemas.Proxy
		status string
	)
	if err := row.Scan(&p.ID, &p.Host, &p.Port, &p.Protocol, &p.Username, &p.Password, &status); err != nil {
		return nil, err
	}
	p.Status = schemas.ProxyStatus(status)
	return &p, nil
}

func mapNotFound(err error, format string, args ...any) error {
	if errors.Is(err, pgx.ErrNoRows) {
		return schemas.WrapError(schemas.KindNotFound, err, format+" not found", args...)
	}
	return fmt.Errorf("store query failed: %w", err)
}
