package sqlite

const SCHEMA_VERSION = 1

const schema = `
CREATE TABLE IF NOT EXISTS escalation_log (
    seq INTEGER PRIMARY KEY AUTOINCREMENT,
    id TEXT NOT NULL UNIQUE,
    instance_id TEXT NOT NULL,
    level INTEGER NOT NULL,
    trigger_kind TEXT NOT NULL,
    rule TEXT,
    step_name TEXT,
    from_actor TEXT,
    to_actor TEXT,
    to_role TEXT,
    previous_priority TEXT,
    new_priority TEXT,
    reason TEXT NOT NULL,
    hours_overdue REAL,
    recommended_action TEXT,
    created_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_escalation_log_instance ON escalation_log(instance_id, seq);
CREATE INDEX IF NOT EXISTS idx_escalation_log_created ON escalation_log(created_at);

CREATE TABLE IF NOT EXISTS schema_version (
    version INTEGER PRIMARY KEY
);
`

const insertSchemaVersion = `INSERT OR IGNORE INTO schema_version (version) VALUES (?)`

const getSchemaVersion = `SELECT MAX(version) FROM schema_version`
