package sqlite

// Schema contains the SQL statements to create the knowledge-graph schema.
// All statements are idempotent (IF NOT EXISTS) so the schema can be applied
// on every open.
const Schema = `
-- Entities: canonical registry of named things
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
    recent_contexts TEXT, -- JSON array, bounded ring

    first_mentioned TIMESTAMP NOT NULL,
    last_mentioned TIMESTAMP NOT NULL,
    last_accessed_at TIMESTAMP,
    last_decayed_at TIMESTAMP,

    status TEXT NOT NULL DEFAULT 'active',
    importance_tier TEXT NOT NULL DEFAULT 'medium',

    embedding_id TEXT,
    source_id TEXT,
    privacy TEXT NOT NULL DEFAULT 'standard',
    expires_at TIMESTAMP,

    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- The dedup invariant: one active entity per (user, normalized name).
CREATE UNIQUE INDEX IF NOT EXISTS idx_entities_user_name
    ON entities(user_id, normalized_name) WHERE status = 'active';
CREATE INDEX IF NOT EXISTS idx_entities_importance
    ON entities(user_id, status, importance DESC);
CREATE INDEX IF NOT EXISTS idx_entities_source
    ON entities(user_id, source_id);

-- Facts: bi-temporal subject-predicate-object triples
CREATE TABLE IF NOT EXISTS facts (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    entity_id TEXT NOT NULL,
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
    valid_from TIMESTAMP NOT NULL,
    valid_to TIMESTAMP,

    -- System time
    created_at TIMESTAMP NOT NULL,
    invalidated_at TIMESTAMP,
    invalidated_by TEXT,
    invalidation_reason TEXT,

    version INTEGER NOT NULL DEFAULT 1,
    previous_version_id TEXT,
    is_current INTEGER NOT NULL DEFAULT 1,

    status TEXT NOT NULL DEFAULT 'active',
    last_mentioned TIMESTAMP NOT NULL,

    FOREIGN KEY (entity_id) REFERENCES entities(id)
);

CREATE INDEX IF NOT EXISTS idx_facts_current
    ON facts(user_id, entity_id, predicate, is_current);
CREATE INDEX IF NOT EXISTS idx_facts_source
    ON facts(user_id, source_id);
CREATE INDEX IF NOT EXISTS idx_facts_category
    ON facts(user_id, category, is_current);

-- Links: symmetric co-occurrence edges, entity_a < entity_b
CREATE TABLE IF NOT EXISTS links (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    entity_a TEXT NOT NULL,
    entity_b TEXT NOT NULL,
    strength INTEGER NOT NULL DEFAULT 1,
    last_seen TIMESTAMP NOT NULL,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, entity_a, entity_b)
);

CREATE INDEX IF NOT EXISTS idx_links_a ON links(user_id, entity_a);
CREATE INDEX IF NOT EXISTS idx_links_b ON links(user_id, entity_b);

-- Behaviors: first-person stances, reinforced rather than replaced
CREATE TABLE IF NOT EXISTS behaviors (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    predicate TEXT NOT NULL,
    target_entity_id TEXT NOT NULL DEFAULT '',
    topic TEXT NOT NULL DEFAULT '',
    evidence TEXT,
    confidence REAL NOT NULL DEFAULT 0.5,
    reinforcement_count INTEGER NOT NULL DEFAULT 1,
    last_reinforced TIMESTAMP NOT NULL,
    source_id TEXT,
    status TEXT NOT NULL DEFAULT 'active',
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, predicate, target_entity_id, topic)
);

-- Summaries: one active paragraph per (user, category), rewritten wholesale
CREATE TABLE IF NOT EXISTS summaries (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    category TEXT NOT NULL,
    content TEXT NOT NULL,
    fact_count INTEGER NOT NULL DEFAULT 0,
    created_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, category)
);

-- Entity embeddings, serialized as little-endian float32 blobs
CREATE TABLE IF NOT EXISTS embeddings (
    entity_id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    vec BLOB NOT NULL,
    dim INTEGER NOT NULL,
    updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_embeddings_user ON embeddings(user_id);

-- Consolidation-scan output, surfaced for review rather than auto-merged
CREATE TABLE IF NOT EXISTS merge_candidates (
    id TEXT PRIMARY KEY,
    user_id TEXT NOT NULL,
    entity_a TEXT NOT NULL,
    entity_b TEXT NOT NULL,
    similarity REAL NOT NULL,
    flagged_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(user_id, entity_a, entity_b)
);

-- FTS5 index over entity names and summaries, kept in sync via triggers
CREATE VIRTUAL TABLE IF NOT EXISTS entities_fts USING fts5(
    name, summary,
    content='entities', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS entities_fts_ai AFTER INSERT ON entities BEGIN
    INSERT INTO entities_fts(rowid, name, summary)
    VALUES (new.rowid, new.name, new.summary);
END;
CREATE TRIGGER IF NOT EXISTS entities_fts_ad AFTER DELETE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, name, summary)
    VALUES ('delete', old.rowid, old.name, old.summary);
END;
CREATE TRIGGER IF NOT EXISTS entities_fts_au AFTER UPDATE ON entities BEGIN
    INSERT INTO entities_fts(entities_fts, rowid, name, summary)
    VALUES ('delete', old.rowid, old.name, old.summary);
    INSERT INTO entities_fts(rowid, name, summary)
    VALUES (new.rowid, new.name, new.summary);
END;

-- FTS5 index over fact predicates and objects
CREATE VIRTUAL TABLE IF NOT EXISTS facts_fts USING fts5(
    predicate, object,
    content='facts', content_rowid='rowid'
);

CREATE TRIGGER IF NOT EXISTS facts_fts_ai AFTER INSERT ON facts BEGIN
    INSERT INTO facts_fts(rowid, predicate, object)
    VALUES (new.rowid, new.predicate, new.object);
END;
CREATE TRIGGER IF NOT EXISTS facts_fts_ad AFTER DELETE ON facts BEGIN
    INSERT INTO facts_fts(facts_fts, rowid, predicate, object)
    VALUES ('delete', old.rowid, old.predicate, old.object);
END;
CREATE TRIGGER IF NOT EXISTS facts_fts_au AFTER UPDATE ON facts BEGIN
    INSERT INTO facts_fts(facts_fts, rowid, predicate, object)
    VALUES ('delete', old.rowid, old.predicate, old.object);
    INSERT INTO facts_fts(rowid, predicate, object)
    VALUES (new.rowid, new.predicate, new.object);
END;
`
