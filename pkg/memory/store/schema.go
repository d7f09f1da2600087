package store

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// schemaStatements returns the DDL for the memory store, in execution order.
// The embedding dimension is baked into the column type, so changing it
// requires a migration.
func schemaStatements(dim int) []string {
	return []string{
		`CREATE EXTENSION IF NOT EXISTS vector`,

		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS memories (
			id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
			agent_id VARCHAR(50) NOT NULL,
			content TEXT NOT NULL,
			embedding vector(%d),
			memory_type VARCHAR(20) NOT NULL
				CHECK (memory_type IN ('episodic', 'semantic', 'procedural')),
			topics TEXT[] DEFAULT '{}',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			event_date DATE,
			expires_at DATE,
			importance FLOAT DEFAULT 0.5 CHECK (importance BETWEEN 0 AND 1),
			stability FLOAT DEFAULT 0.3 CHECK (stability BETWEEN 0 AND 1),
			last_accessed TIMESTAMPTZ DEFAULT NOW(),
			access_count INTEGER DEFAULT 0,
			source_channel VARCHAR(50),
			source_session VARCHAR(100),
			is_summary BOOLEAN DEFAULT FALSE,
			summarizes UUID[] DEFAULT '{}',
			is_deleted BOOLEAN DEFAULT FALSE
		)`, dim),

		`CREATE TABLE IF NOT EXISTS memory_links (
			source_id UUID REFERENCES memories(id) ON DELETE CASCADE,
			target_id UUID REFERENCES memories(id) ON DELETE CASCADE,
			strength FLOAT DEFAULT 0.5 CHECK (strength BETWEEN 0 AND 1),
			link_type VARCHAR(20) DEFAULT 'association',
			created_at TIMESTAMPTZ DEFAULT NOW(),
			updated_at TIMESTAMPTZ DEFAULT NOW(),
			PRIMARY KEY (source_id, target_id)
		)`,

		`CREATE INDEX IF NOT EXISTS memories_agent_idx ON memories(agent_id)`,
		`CREATE INDEX IF NOT EXISTS memories_type_idx ON memories(memory_type)`,
		`CREATE INDEX IF NOT EXISTS memories_topics_idx ON memories USING GIN(topics)`,
		`CREATE INDEX IF NOT EXISTS memories_created_idx ON memories(created_at DESC)`,
		`CREATE INDEX IF NOT EXISTS memories_active_idx ON memories(agent_id, is_deleted) WHERE is_deleted = FALSE`,
		`CREATE INDEX IF NOT EXISTS memory_links_source_idx ON memory_links(source_id)`,
		`CREATE INDEX IF NOT EXISTS memory_links_target_idx ON memory_links(target_id)`,

		`CREATE OR REPLACE FUNCTION calculate_retention(
			p_stability FLOAT,
			p_importance FLOAT,
			p_last_accessed TIMESTAMPTZ
		) RETURNS FLOAT AS $$
		DECLARE
			days_elapsed FLOAT;
			importance_boost FLOAT;
			decay_constant FLOAT;
		BEGIN
			days_elapsed := EXTRACT(EPOCH FROM (NOW() - p_last_accessed)) / 86400.0;
			importance_boost := 1.0 + (p_importance * 2.0);
			decay_constant := p_stability * importance_boost * 30.0;

			IF decay_constant < 1 THEN
				decay_constant := 1;
			END IF;

			RETURN GREATEST(0, LEAST(1, EXP(-days_elapsed / decay_constant)));
		END;
		$$ LANGUAGE plpgsql IMMUTABLE`,

		`CREATE OR REPLACE FUNCTION reinforce_memory(
			p_memory_id UUID
		) RETURNS BOOLEAN AS $$
		DECLARE
			days_since_access FLOAT;
			spacing_bonus FLOAT;
			current_stability FLOAT;
		BEGIN
			SELECT
				stability,
				EXTRACT(EPOCH FROM (NOW() - last_accessed)) / 86400.0
			INTO current_stability, days_since_access
			FROM memories
			WHERE id = p_memory_id AND is_deleted = FALSE
			FOR UPDATE;

			IF NOT FOUND THEN
				RETURN FALSE;
			END IF;

			spacing_bonus := LEAST(2.0, days_since_access / 7.0);

			UPDATE memories SET
				last_accessed = NOW(),
				access_count = access_count + 1,
				stability = LEAST(1.0, current_stability + 0.1 * spacing_bonus)
			WHERE id = p_memory_id;

			RETURN TRUE;
		END;
		$$ LANGUAGE plpgsql`,

		`CREATE OR REPLACE FUNCTION strengthen_link(
			p_source_id UUID,
			p_target_id UUID,
			p_increment FLOAT DEFAULT 0.1
		) RETURNS VOID AS $$
		BEGIN
			INSERT INTO memory_links (source_id, target_id, strength)
			VALUES (p_source_id, p_target_id, 0.5)
			ON CONFLICT (source_id, target_id) DO UPDATE SET
				strength = LEAST(1.0, memory_links.strength + p_increment),
				updated_at = NOW();

			INSERT INTO memory_links (source_id, target_id, strength)
			VALUES (p_target_id, p_source_id, 0.5)
			ON CONFLICT (source_id, target_id) DO UPDATE SET
				strength = LEAST(1.0, memory_links.strength + p_increment),
				updated_at = NOW();
		END;
		$$ LANGUAGE plpgsql`,

		`CREATE OR REPLACE VIEW active_memories AS
		SELECT
			*,
			calculate_retention(stability, importance, last_accessed) AS retention
		FROM memories
		WHERE is_deleted = FALSE`,
	}
}

// annIndexStatement is applied best-effort: ivfflat needs data to choose
// useful lists, so a failure on an empty table is tolerated.
const annIndexStatement = `CREATE INDEX IF NOT EXISTS memories_embedding_idx ON memories
	USING ivfflat (embedding vector_cosine_ops) WITH (lists = 100)`

// CreateSchema bootstraps tables, indexes and the server-resident routines.
func (ps *PostgresStore) CreateSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements(ps.dim) {
		if _, err := ps.pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("%w: schema bootstrap: %v", ErrStore, err)
		}
	}
	if _, err := ps.pool.Exec(ctx, annIndexStatement); err != nil {
		ps.logger.Warn("vector index creation skipped", zap.Error(err))
	}
	return nil
}
