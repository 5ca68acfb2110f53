package sqlite

const schema = `
-- Sessions table
-- Sessions are never deleted; lineage is preserved through parent_id.
CREATE TABLE IF NOT EXISTS sessions (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL CHECK(length(name) <= 500),
    description TEXT NOT NULL DEFAULT '',
    branch TEXT NOT NULL DEFAULT '',
    working_dir TEXT NOT NULL DEFAULT '',
    parent_id TEXT NOT NULL DEFAULT '',
    default_channel TEXT NOT NULL DEFAULT 'general' CHECK(length(default_channel) <= 20),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_sessions_name ON sessions(name);
CREATE INDEX IF NOT EXISTS idx_sessions_created_at ON sessions(created_at);

-- Context items table
-- One row per (session, key); saves upsert in place.
CREATE TABLE IF NOT EXISTS context_items (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    key TEXT NOT NULL CHECK(length(key) <= 255),
    value TEXT NOT NULL CHECK(length(value) <= 1048576),
    category TEXT NOT NULL DEFAULT 'note' CHECK(category IN ('task','decision','progress','note','error','warning','git','system')),
    priority TEXT NOT NULL DEFAULT 'normal' CHECK(priority IN ('high','normal','low')),
    channel TEXT NOT NULL DEFAULT 'general' CHECK(length(channel) <= 20),
    metadata TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    is_private INTEGER NOT NULL DEFAULT 0 CHECK(is_private IN (0,1)),
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_id, key),
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_items_session_channel ON context_items(session_id, channel);
CREATE INDEX IF NOT EXISTS idx_items_session_category ON context_items(session_id, category);
CREATE INDEX IF NOT EXISTS idx_items_session_priority ON context_items(session_id, priority);
CREATE INDEX IF NOT EXISTS idx_items_session_created ON context_items(session_id, created_at);
-- Cross-session lookups (get-by-key fallback to most recent public item)
CREATE INDEX IF NOT EXISTS idx_items_key_private ON context_items(key, is_private, created_at);

-- Relationships table (directed edges between item keys of one session)
CREATE TABLE IF NOT EXISTS context_relationships (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    from_key TEXT NOT NULL,
    to_key TEXT NOT NULL,
    relation_type TEXT NOT NULL CHECK(relation_type IN ('contains','depends_on','references','implements','extends','related_to','blocks','blocked_by','parent_of','child_of')),
    metadata TEXT NOT NULL DEFAULT '{}',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_id, from_key, to_key, relation_type),
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_rel_session_from ON context_relationships(session_id, from_key);
CREATE INDEX IF NOT EXISTS idx_rel_session_to ON context_relationships(session_id, to_key);

-- Checkpoints table
CREATE TABLE IF NOT EXISTS checkpoints (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    name TEXT NOT NULL,
    description TEXT NOT NULL DEFAULT '',
    git_branch TEXT NOT NULL DEFAULT '',
    git_status TEXT NOT NULL DEFAULT '',
    item_count INTEGER NOT NULL DEFAULT 0,
    file_count INTEGER NOT NULL DEFAULT 0,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_checkpoints_session ON checkpoints(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_checkpoints_name ON checkpoints(name);

-- Checkpoint item snapshots
-- Full copies, not references: later edits to live items never mutate history.
CREATE TABLE IF NOT EXISTS checkpoint_items (
    checkpoint_id TEXT NOT NULL,
    key TEXT NOT NULL,
    value TEXT NOT NULL,
    category TEXT NOT NULL DEFAULT 'note',
    priority TEXT NOT NULL DEFAULT 'normal',
    channel TEXT NOT NULL DEFAULT 'general',
    metadata TEXT,
    size INTEGER NOT NULL DEFAULT 0,
    is_private INTEGER NOT NULL DEFAULT 0,
    item_created_at DATETIME NOT NULL,
    item_updated_at DATETIME NOT NULL,
    PRIMARY KEY (checkpoint_id, key),
    FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(id) ON DELETE CASCADE
);

-- Checkpoint file snapshots (hash references into file_cache)
CREATE TABLE IF NOT EXISTS checkpoint_files (
    checkpoint_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    hash TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    PRIMARY KEY (checkpoint_id, file_path),
    FOREIGN KEY (checkpoint_id) REFERENCES checkpoints(id) ON DELETE CASCADE
);

-- File cache table (sha-256 content snapshots for change detection)
CREATE TABLE IF NOT EXISTS file_cache (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    file_path TEXT NOT NULL,
    content TEXT NOT NULL DEFAULT '',
    hash TEXT NOT NULL,
    size INTEGER NOT NULL DEFAULT 0,
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_id, file_path),
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

-- Journal entries (append-only)
CREATE TABLE IF NOT EXISTS journal_entries (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    entry TEXT NOT NULL,
    tags TEXT NOT NULL DEFAULT '[]',
    mood TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_journal_session_created ON journal_entries(session_id, created_at);

-- Compressed context buckets
-- The summary column holds the serialized category summaries; it is
-- retrievable but never editable.
CREATE TABLE IF NOT EXISTS compressed_context (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    summary TEXT NOT NULL,
    narrative TEXT NOT NULL DEFAULT '',
    original_count INTEGER NOT NULL,
    compressed_size INTEGER NOT NULL,
    ratio REAL NOT NULL DEFAULT 0,
    date_start DATETIME NOT NULL,
    date_end DATETIME NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (session_id) REFERENCES sessions(id)
);

CREATE INDEX IF NOT EXISTS idx_compressed_session ON compressed_context(session_id, created_at);

-- Tool events (audit trail of dispatched tool invocations)
CREATE TABLE IF NOT EXISTS tool_events (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL DEFAULT '',
    tool TEXT NOT NULL,
    actor TEXT NOT NULL DEFAULT '',
    duration_ms INTEGER NOT NULL DEFAULT 0,
    success INTEGER NOT NULL DEFAULT 1,
    error TEXT NOT NULL DEFAULT '',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE INDEX IF NOT EXISTS idx_tool_events_session ON tool_events(session_id, created_at);
CREATE INDEX IF NOT EXISTS idx_tool_events_tool ON tool_events(tool);

-- Knowledge graph tables
CREATE TABLE IF NOT EXISTS entities (
    id TEXT PRIMARY KEY,
    session_id TEXT NOT NULL,
    name TEXT NOT NULL,
    entity_type TEXT NOT NULL DEFAULT 'concept',
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    UNIQUE(session_id, name)
);

CREATE TABLE IF NOT EXISTS relations (
    session_id TEXT NOT NULL,
    from_entity TEXT NOT NULL,
    to_entity TEXT NOT NULL,
    relation TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (session_id, from_entity, to_entity, relation),
    FOREIGN KEY (from_entity) REFERENCES entities(id),
    FOREIGN KEY (to_entity) REFERENCES entities(id)
);

CREATE TABLE IF NOT EXISTS observations (
    id TEXT PRIMARY KEY,
    entity_id TEXT NOT NULL,
    content TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    FOREIGN KEY (entity_id) REFERENCES entities(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_observations_entity ON observations(entity_id);

-- Retention policies
CREATE TABLE IF NOT EXISTS retention_policies (
    id TEXT PRIMARY KEY,
    name TEXT NOT NULL UNIQUE,
    category TEXT NOT NULL DEFAULT '',
    channel TEXT NOT NULL DEFAULT '',
    max_age_days INTEGER NOT NULL DEFAULT 0,
    max_count INTEGER NOT NULL DEFAULT 0,
    enabled INTEGER NOT NULL DEFAULT 1,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Feature flags
CREATE TABLE IF NOT EXISTS feature_flags (
    name TEXT PRIMARY KEY,
    enabled INTEGER NOT NULL DEFAULT 0,
    description TEXT NOT NULL DEFAULT '',
    updated_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

-- Migrations log (records applied versions, including failed attempts)
CREATE TABLE IF NOT EXISTS migrations_log (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    version INTEGER NOT NULL,
    name TEXT NOT NULL,
    applied_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    success INTEGER NOT NULL DEFAULT 1,
    execution_time_ms INTEGER NOT NULL DEFAULT 0,
    error TEXT NOT NULL DEFAULT ''
);

-- Metadata table (internal state like schema hints and import markers)
CREATE TABLE IF NOT EXISTS metadata (
    key TEXT PRIMARY KEY,
    value TEXT NOT NULL
);
`
