// Package postgres provides the PostgreSQL implementation of the storage
// interfaces. It is the backend for multi-device deployments; vector search
// uses pgvector when the extension is installed and degrades to in-process
// cosine scans otherwise.
package postgres

// Schema contains the SQL statements to create the knowledge-graph schema.
// All statements are idempotent (IF NOT EXISTS) so the schema can be applied
// on every open.
const Schema = `
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    name TEXT NOT NULL,
    normalized_name TEXT NOT NULL,
    type TEXT NOT NULL,
    subtype TEXT,
    summary TEXT,

    mention_count INTEGER NOT NULL DEFAULT 1,
    importance REAL NOT NULL DEFAULT 0.5,
    sentiment_avg REAL NOT NULL DEFAULT 0.0,
    recent_contexts JSONB,

    first_mentioned TIMESTAMPTZ NOT NULL,
    last_mentioned TIMESTAMPTZ NOT NULL,
    last_accessed_at TIMESTAMPTZ,
    last_decayed_at TIMESTAMPTZ,

    status TEXT NOT NULL DEFAULT 'active',
    importance_tier TEXT NOT NULL DEFAULT 'medium',

    embedding_id TEXT,
    source_id TEXT,
    privacy TEXT NOT NULL DEFAULT 'standard',
    expires_at TIMESTAMPTZ,

    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

-- The dedup invariant: one active entity per (user, normalized name).
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_user_name
    ON entities(user_id, normalized_name) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_entities_importance
    ON entities(user_id, status, importance DESC);
CREATE INDEX IF NOT EXISTS idx_entities_source
    ON entities(user_id, source_id);

CREATE TABLE IF NOT EXISTS facts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    entity_id TEXT NOT NULL REFERENCES entities(id),
    predicate TEXT NOT NULL,
    object TEXT NOT NULL,
    object_norm TEXT NOT NULL,
    object_entity_id TEXT,
    category TEXT,

    confidence REAL NOT NULL DEFAULT 0.5,
    mention_count INTEGER NOT NULL DEFAULT 1,

    source_type TEXT,
    source_id TEXT,

    -- World time
    valid_from TIMESTAMPTZ NOT NULL,
    valid_to TIMESTAMPTZ,

    -- System time
    created_at TIMESTAMPTZ NOT NULL,
    invalidated_at TIMESTAMPTZ,
    invalidated_by TEXT,
    invalidation_reason TEXT,

    version INTEGER NOT NULL DEFAULT 1,
    previous_version_id TEXT,
    is_current BOOLEAN NOT NULL DEFAULT TRUE,
    single_value BOOLEAN NOT NULL DEFAULT FALSE,

    status TEXT NOT NULL DEFAULT 'active',
    last_mentioned TIMESTAMPTZ NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_facts_current
    ON facts(user_id, entity_id, predicate, is_current);
-- The exclusivity invariant: at most one current fact per (user, entity,
-- predicate) for single-value predicates. Two transactions that both see
-- no prior row cannot both commit a current fact; the loser retries.
CREATE UNIQUE INDEX IF NOT EXISTS idx_facts_current_single
    ON facts(user_id, entity_id, predicate) WHERE is_current AND single_value;
CREATE INDEX IF NOT EXISTS idx_facts_source
    ON facts(user_id, source_id);
CREATE INDEX IF NOT EXISTS idx_facts_category
    ON facts(user_id, category, is_current);

CREATE TABLE IF NOT EXISTS links (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    entity_a TEXT NOT NULL,
    entity_b TEXT NOT NULL,
    strength INTEGER NOT NULL DEFAULT 1,
    last_seen TIMESTAMPTZ NOT NULL,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(user_id, entity_a, entity_b)
);

CREATE INDEX IF NOT EXISTS idx_links_a ON links(user_id, entity_a);
CREATE INDEX IF NOT EXISTS idx_links_b ON links(user_id, entity_b);

CREATE TABLE IF NOT EXISTS behaviors (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    predicate TEXT NOT NULL,
    target_entity_id TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    evidence TEXT,
    confidence REAL NOT NULL DEFAULT 0.5,
    reinforcement_count INTEGER NOT NULL DEFAULT 1,
    last_reinforced TIMESTAMPTZ NOT NULL,
    source_id TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(user_id, predicate, target_entity_id, topic)
);

CREATE TABLE IF NOT EXISTS summaries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    category TEXT NOT NULL,
    content TEXT NOT NULL,
    fact_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(user_id, category)
);

CREATE TABLE IF NOT EXISTS embeddings (
    entity_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    vec BYTEA NOT NULL,
    dim INTEGER NOT NULL,
    updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_embeddings_user ON embeddings(user_id);

CREATE TABLE IF NOT EXISTS merge_candidates (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    entity_a TEXT NOT NULL,
    entity_b TEXT NOT NULL,
    similarity REAL NOT NULL,
    flagged_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    UNIQUE(user_id, entity_a, entity_b)
);
`

// MigrationFTS adds tsvector columns with trigger maintenance for keyword
// search over entity names/summaries and fact predicates/objects.
const MigrationFTS = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'entities' AND column_name = 'search_tsv'
    ) THEN
        ALTER TABLE entities ADD COLUMN search_tsv tsvector;
    END IF;
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'facts' AND column_name = 'search_tsv'
    ) THEN
        ALTER TABLE facts ADD COLUMN search_tsv tsvector;
    END IF;
END $$;

UPDATE entities SET search_tsv = to_tsvector('english', COALESCE(name, '') || ' ' || COALESCE(summary, ''))
WHERE search_tsv IS NULL;
UPDATE facts SET search_tsv = to_tsvector('english', COALESCE(predicate, '') || ' ' || COALESCE(object, ''))
WHERE search_tsv IS NULL;

CREATE OR REPLACE FUNCTION entities_tsv_update() RETURNS trigger AS $$
BEGIN
    NEW.search_tsv := to_tsvector('english', COALESCE(NEW.name, '') || ' ' || COALESCE(NEW.summary, ''));
    RETURN NEW;
END $$ LANGUAGE plpgsql;

CREATE OR REPLACE FUNCTION facts_tsv_update() RETURNS trigger AS $$
BEGIN
    NEW.search_tsv := to_tsvector('english', COALESCE(NEW.predicate, '') || ' ' || COALESCE(NEW.object, ''));
    RETURN NEW;
END $$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS trg_entities_tsv ON entities;
CREATE TRIGGER trg_entities_tsv BEFORE INSERT OR UPDATE ON entities
    FOR EACH ROW EXECUTE FUNCTION entities_tsv_update();

DROP TRIGGER IF EXISTS trg_facts_tsv ON facts;
CREATE TRIGGER trg_facts_tsv BEFORE INSERT OR UPDATE ON facts
    FOR EACH ROW EXECUTE FUNCTION facts_tsv_update();

CREATE INDEX IF NOT EXISTS idx_entities_tsv ON entities USING GIN(search_tsv);
CREATE INDEX IF NOT EXISTS idx_facts_tsv ON facts USING GIN(search_tsv);
`

// MigrationPgvector adds the native vector column used for ANN queries.
// Applied only when the pgvector extension is available.
const MigrationPgvector = `
DO $$
BEGIN
    IF NOT EXISTS (
        SELECT 1 FROM information_schema.columns
        WHERE table_name = 'embeddings' AND column_name = 'vec_ann'
    ) THEN
        ALTER TABLE embeddings ADD COLUMN vec_ann vector(1536);
    END IF;
END $$;

CREATE INDEX IF NOT EXISTS idx_embeddings_ann
    ON embeddings USING ivfflat (vec_ann vector_cosine_ops) WITH (lists = 100);
`
