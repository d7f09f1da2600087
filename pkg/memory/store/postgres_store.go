package store

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/Protocol-Lattice/engram/pkg/memory/model"
)

// PostgresStore implements Store on Postgres + pgvector. The retention,
// reinforcement and link-strengthening routines run server-side so every
// mutation is atomic per memory.
type PostgresStore struct {
	pool   *pgxpool.Pool
	dim    int
	logger *zap.Logger
}

// NewPostgresStore connects to Postgres and returns a pgvector-backed Store.
// dim is the embedding dimension enforced on every write.
func NewPostgresStore(ctx context.Context, connStr string, dim int, logger *zap.Logger) (*PostgresStore, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	pool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("%w: connect: %v", ErrStore, err)
	}
	return &PostgresStore{pool: pool, dim: dim, logger: logger}, nil
}

const memoryColumns = `id, agent_id, content, memory_type, topics, importance, stability,
	created_at, event_date, expires_at, last_accessed, access_count,
	source_channel, source_session, is_summary, summarizes`

const insertSQL = `
	INSERT INTO memories (
		agent_id, content, embedding, memory_type, topics, importance, stability,
		event_date, expires_at, source_channel, source_session, is_summary, summarizes
	) VALUES ($1, $2, $3::vector, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
	RETURNING id, created_at, last_accessed`

func (ps *PostgresStore) Insert(ctx context.Context, mem model.Memory) (model.Memory, error) {
	if err := ps.checkDim(mem.Embedding); err != nil {
		return model.Memory{}, err
	}
	row := ps.pool.QueryRow(ctx, insertSQL, insertArgs(mem)...)
	if err := row.Scan(&mem.ID, &mem.CreatedAt, &mem.LastAccessed); err != nil {
		return model.Memory{}, fmt.Errorf("%w: insert memory: %v", ErrStore, err)
	}
	return mem, nil
}

// InsertDedup runs the nearest-neighbor probe and the reinforce-or-insert
// decision in one transaction, so two concurrent writes of the same content
// cannot both reinforce a row that one of them is about to create.
func (ps *PostgresStore) InsertDedup(ctx context.Context, mem model.Memory, threshold float64) (DedupResult, error) {
	if err := ps.checkDim(mem.Embedding); err != nil {
		return DedupResult{}, err
	}
	tx, err := ps.pool.Begin(ctx)
	if err != nil {
		return DedupResult{}, fmt.Errorf("%w: begin dedup insert: %v", ErrStore, err)
	}
	defer tx.Rollback(ctx)

	vec := vectorLiteral(mem.Embedding)
	var (
		existingID uuid.UUID
		similarity float64
	)
	err = tx.QueryRow(ctx, `
		SELECT id, 1 - (embedding <=> $1::vector) AS similarity
		FROM memories
		WHERE agent_id = $2
		  AND is_deleted = FALSE
		  AND 1 - (embedding <=> $1::vector) > $3
		ORDER BY similarity DESC
		LIMIT 1`, vec, mem.AgentID, threshold).Scan(&existingID, &similarity)

	var result DedupResult
	switch {
	case err == nil:
		var reinforced bool
		if err := tx.QueryRow(ctx, `SELECT reinforce_memory($1)`, existingID).Scan(&reinforced); err != nil {
			return DedupResult{}, fmt.Errorf("%w: reinforce duplicate: %v", ErrStore, err)
		}
		existing, err := scanOneMemory(tx.QueryRow(ctx, `
			SELECT `+memoryColumns+`,
			       calculate_retention(stability, importance, last_accessed) AS retention
			FROM memories WHERE id = $1`, existingID))
		if err != nil {
			return DedupResult{}, fmt.Errorf("%w: reload duplicate: %v", ErrStore, err)
		}
		result = DedupResult{Reinforced: true, Memory: existing, Similarity: similarity}
	case err == pgx.ErrNoRows:
		row := tx.QueryRow(ctx, insertSQL, insertArgs(mem)...)
		if err := row.Scan(&mem.ID, &mem.CreatedAt, &mem.LastAccessed); err != nil {
			return DedupResult{}, fmt.Errorf("%w: insert memory: %v", ErrStore, err)
		}
		result = DedupResult{Memory: mem}
	default:
		return DedupResult{}, fmt.Errorf("%w: dedup probe: %v", ErrStore, err)
	}

	if err := tx.Commit(ctx); err != nil {
		return DedupResult{}, fmt.Errorf("%w: commit dedup insert: %v", ErrStore, err)
	}
	return result, nil
}

func (ps *PostgresStore) Search(ctx context.Context, agentID string, query []float32, limit int, minRetention float64, types []model.MemoryType) ([]model.Memory, error) {
	if err := ps.checkDim(query); err != nil {
		return nil, err
	}
	sql := `
		SELECT ` + memoryColumns + `,
		       1 - (embedding <=> $1::vector) AS similarity,
		       calculate_retention(stability, importance, last_accessed) AS retention
		FROM memories
		WHERE agent_id = $2
		  AND is_deleted = FALSE`
	args := []any{vectorLiteral(query), agentID}
	if minRetention > 0 {
		args = append(args, minRetention)
		sql += fmt.Sprintf(`
		  AND calculate_retention(stability, importance, last_accessed) >= $%d`, len(args))
	}
	if len(types) > 0 {
		args = append(args, typeStrings(types))
		sql += fmt.Sprintf(`
		  AND memory_type = ANY($%d)`, len(args))
	}
	args = append(args, limit)
	sql += fmt.Sprintf(`
		ORDER BY (1 - (embedding <=> $1::vector)) *
		         calculate_retention(stability, importance, last_accessed) DESC,
		         created_at DESC, id ASC
		LIMIT $%d`, len(args))

	var memories []model.Memory
	err := ps.withRetry(ctx, func() error {
		rows, err := ps.pool.Query(ctx, sql, args...)
		if err != nil {
			return err
		}
		defer rows.Close()
		memories, err = scanMemories(rows, false)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: search: %v", ErrStore, err)
	}
	return memories, nil
}

func (ps *PostgresStore) Get(ctx context.Context, agentID string, ids []uuid.UUID) ([]model.Memory, error) {
	var memories []model.Memory
	err := ps.withRetry(ctx, func() error {
		rows, err := ps.pool.Query(ctx, `
			SELECT `+memoryColumns+`,
			       calculate_retention(stability, importance, last_accessed) AS retention
			FROM memories
			WHERE agent_id = $1
			  AND id = ANY($2)
			  AND is_deleted = FALSE`, agentID, ids)
		if err != nil {
			return err
		}
		defer rows.Close()
		memories, err = scanMemoriesPlain(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: get: %v", ErrStore, err)
	}
	return memories, nil
}

func (ps *PostgresStore) CountActive(ctx context.Context, ids []uuid.UUID) (int, error) {
	var count int
	err := ps.withRetry(ctx, func() error {
		return ps.pool.QueryRow(ctx, `
			SELECT COUNT(*) FROM memories
			WHERE id = ANY($1) AND is_deleted = FALSE`, ids).Scan(&count)
	})
	if err != nil {
		return 0, fmt.Errorf("%w: count active: %v", ErrStore, err)
	}
	return count, nil
}

func (ps *PostgresStore) Reinforce(ctx context.Context, id uuid.UUID) error {
	var found bool
	err := ps.withRetry(ctx, func() error {
		return ps.pool.QueryRow(ctx, `SELECT reinforce_memory($1)`, id).Scan(&found)
	})
	if err != nil {
		return fmt.Errorf("%w: reinforce: %v", ErrStore, err)
	}
	if !found {
		return fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return nil
}

// StrengthenLink delegates to the strengthen_link routine, which upserts both
// halves of the edge inside one statement and therefore one transaction.
func (ps *PostgresStore) StrengthenLink(ctx context.Context, source, target uuid.UUID, increment float64) error {
	err := ps.withRetry(ctx, func() error {
		_, err := ps.pool.Exec(ctx, `SELECT strengthen_link($1, $2, $3)`, source, target, increment)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: strengthen link: %v", ErrStore, err)
	}
	return nil
}

func (ps *PostgresStore) FetchAssociations(ctx context.Context, sourceIDs []uuid.UUID, strengthMin float64, limit int) ([]model.Memory, error) {
	var memories []model.Memory
	err := ps.withRetry(ctx, func() error {
		rows, err := ps.pool.Query(ctx, `
			SELECT * FROM (
				SELECT DISTINCT ON (m.id)
				       m.id, m.agent_id, m.content, m.memory_type, m.topics,
				       m.importance, m.stability, m.created_at, m.event_date,
				       m.expires_at, m.last_accessed, m.access_count,
				       m.source_channel, m.source_session, m.is_summary, m.summarizes,
				       l.strength AS link_strength,
				       calculate_retention(m.stability, m.importance, m.last_accessed) AS retention
				FROM memories m
				JOIN memory_links l ON m.id = l.target_id
				WHERE l.source_id = ANY($1)
				  AND m.id != ALL($1)
				  AND m.is_deleted = FALSE
				  AND l.strength > $2
				ORDER BY m.id, l.strength DESC
			) linked
			ORDER BY link_strength DESC, retention DESC
			LIMIT $3`, sourceIDs, strengthMin, limit)
		if err != nil {
			return err
		}
		defer rows.Close()
		memories, err = scanMemories(rows, true)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: fetch associations: %v", ErrStore, err)
	}
	return memories, nil
}

func (ps *PostgresStore) ScanBelowRetention(ctx context.Context, agentID string, threshold float64) ([]model.Memory, error) {
	var memories []model.Memory
	err := ps.withRetry(ctx, func() error {
		rows, err := ps.pool.Query(ctx, `
			SELECT `+memoryColumns+`,
			       calculate_retention(stability, importance, last_accessed) AS retention
			FROM memories
			WHERE agent_id = $1
			  AND is_deleted = FALSE
			  AND is_summary = FALSE
			  AND calculate_retention(stability, importance, last_accessed) < $2`, agentID, threshold)
		if err != nil {
			return err
		}
		defer rows.Close()
		memories, err = scanMemoriesPlain(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan below retention: %v", ErrStore, err)
	}
	return memories, nil
}

func (ps *PostgresStore) ScanPromotion(ctx context.Context, agentID string, stabilityMin float64, accessMin int) ([]model.Memory, error) {
	var memories []model.Memory
	err := ps.withRetry(ctx, func() error {
		rows, err := ps.pool.Query(ctx, `
			SELECT `+memoryColumns+`,
			       calculate_retention(stability, importance, last_accessed) AS retention
			FROM memories
			WHERE agent_id = $1
			  AND is_deleted = FALSE
			  AND memory_type = 'semantic'
			  AND stability > $2
			  AND access_count > $3`, agentID, stabilityMin, accessMin)
		if err != nil {
			return err
		}
		defer rows.Close()
		memories, err = scanMemoriesPlain(rows)
		return err
	})
	if err != nil {
		return nil, fmt.Errorf("%w: scan promotion: %v", ErrStore, err)
	}
	return memories, nil
}

func (ps *PostgresStore) SoftDeleteDormant(ctx context.Context, agentID string, retentionCutoff float64, dormantFor time.Duration) (int64, error) {
	var swept int64
	err := ps.withRetry(ctx, func() error {
		tag, err := ps.pool.Exec(ctx, `
			UPDATE memories
			SET is_deleted = TRUE
			WHERE agent_id = $1
			  AND is_deleted = FALSE
			  AND is_summary = FALSE
			  AND calculate_retention(stability, importance, last_accessed) < $2
			  AND last_accessed < NOW() - make_interval(secs => $3)`, agentID, retentionCutoff, dormantFor.Seconds())
		if err != nil {
			return err
		}
		swept = tag.RowsAffected()
		return nil
	})
	if err != nil {
		return 0, fmt.Errorf("%w: soft delete dormant: %v", ErrStore, err)
	}
	return swept, nil
}

func (ps *PostgresStore) MarkSummarized(ctx context.Context, ids []uuid.UUID) error {
	err := ps.withRetry(ctx, func() error {
		_, err := ps.pool.Exec(ctx, `
			UPDATE memories SET is_summary = TRUE WHERE id = ANY($1)`, ids)
		return err
	})
	if err != nil {
		return fmt.Errorf("%w: mark summarized: %v", ErrStore, err)
	}
	return nil
}

// Close releases the underlying connection pool.
func (ps *PostgresStore) Close() error {
	if ps == nil || ps.pool == nil {
		return nil
	}
	ps.pool.Close()
	return nil
}

func (ps *PostgresStore) checkDim(vec []float32) error {
	if len(vec) != ps.dim {
		return fmt.Errorf("%w: embedding dimension %d, store expects %d", model.ErrInvariant, len(vec), ps.dim)
	}
	return nil
}

// withRetry re-issues fn once when the failure never reached the server.
func (ps *PostgresStore) withRetry(ctx context.Context, fn func() error) error {
	err := fn()
	if err == nil || ctx.Err() != nil || !pgconn.SafeToRetry(err) {
		return err
	}
	ps.logger.Warn("retrying transient store failure", zap.Error(err))
	return fn()
}

func insertArgs(mem model.Memory) []any {
	if mem.Stability == 0 {
		mem.Stability = model.InitialStability
	}
	if mem.Topics == nil {
		mem.Topics = []string{}
	}
	if mem.Summarizes == nil {
		mem.Summarizes = []uuid.UUID{}
	}
	return []any{
		mem.AgentID, mem.Content, vectorLiteral(mem.Embedding), string(mem.Type),
		mem.Topics, mem.Importance, mem.Stability,
		mem.EventDate, mem.ExpiresAt,
		nullIfEmpty(mem.SourceChannel), nullIfEmpty(mem.SourceSession),
		mem.IsSummary, mem.Summarizes,
	}
}

func scanMemories(rows pgx.Rows, withLinkStrength bool) ([]model.Memory, error) {
	var memories []model.Memory
	for rows.Next() {
		var (
			mem              model.Memory
			channel, session *string
			memType          string
		)
		dest := []any{
			&mem.ID, &mem.AgentID, &mem.Content, &memType, &mem.Topics,
			&mem.Importance, &mem.Stability, &mem.CreatedAt, &mem.EventDate,
			&mem.ExpiresAt, &mem.LastAccessed, &mem.AccessCount,
			&channel, &session, &mem.IsSummary, &mem.Summarizes,
		}
		if withLinkStrength {
			dest = append(dest, &mem.LinkStrength)
		} else {
			dest = append(dest, &mem.Similarity)
		}
		dest = append(dest, &mem.Retention)
		if err := rows.Scan(dest...); err != nil {
			return nil, err
		}
		mem.Type = model.MemoryType(memType)
		mem.SourceChannel = derefString(channel)
		mem.SourceSession = derefString(session)
		memories = append(memories, mem)
	}
	return memories, rows.Err()
}

func scanMemoriesPlain(rows pgx.Rows) ([]model.Memory, error) {
	var memories []model.Memory
	for rows.Next() {
		mem, err := scanOneMemory(rows)
		if err != nil {
			return nil, err
		}
		memories = append(memories, mem)
	}
	return memories, rows.Err()
}

func scanOneMemory(row pgx.Row) (model.Memory, error) {
	var (
		mem              model.Memory
		channel, session *string
		memType          string
	)
	err := row.Scan(
		&mem.ID, &mem.AgentID, &mem.Content, &memType, &mem.Topics,
		&mem.Importance, &mem.Stability, &mem.CreatedAt, &mem.EventDate,
		&mem.ExpiresAt, &mem.LastAccessed, &mem.AccessCount,
		&channel, &session, &mem.IsSummary, &mem.Summarizes,
		&mem.Retention,
	)
	if err != nil {
		return model.Memory{}, err
	}
	mem.Type = model.MemoryType(memType)
	mem.SourceChannel = derefString(channel)
	mem.SourceSession = derefString(session)
	return mem, nil
}

func vectorLiteral(vec []float32) string {
	var b strings.Builder
	b.WriteByte('[')
	for i, v := range vec {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(strconv.FormatFloat(float64(v), 'f', -1, 32))
	}
	b.WriteByte(']')
	return b.String()
}

func typeStrings(types []model.MemoryType) []string {
	out := make([]string, len(types))
	for i, t := range types {
		out[i] = string(t)
	}
	return out
}

func nullIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func derefString(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}
