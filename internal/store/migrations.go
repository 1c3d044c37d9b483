package store

// migration holds a single schema migration with its target version and SQL.
type migration struct {
	version int
	sql     string
}

// migrations is the ordered list of schema migrations. Timestamps are stored
// as UTC unix nanoseconds so range predicates compare numerically.
var migrations = []migration{
	{
		version: 1,
		sql: `
CREATE TABLE IF NOT EXISTS schema_version (
	version INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS workflow_rules (
	id           TEXT PRIMARY KEY,
	name         TEXT NOT NULL,
	description  TEXT NOT NULL DEFAULT '',
	trigger_type TEXT NOT NULL,
	conditions   TEXT NOT NULL DEFAULT '[]',
	actions      TEXT NOT NULL DEFAULT '[]',
	is_active    INTEGER NOT NULL DEFAULT 1,
	priority     INTEGER NOT NULL DEFAULT 0,
	created_at   INTEGER NOT NULL,
	updated_at   INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_trigger ON workflow_rules(trigger_type, is_active, priority);

CREATE TABLE IF NOT EXISTS dispatch_jobs (
	id                  TEXT PRIMARY KEY,
	channel             TEXT NOT NULL,
	recipient           TEXT NOT NULL,
	template_id         TEXT NOT NULL,
	data                TEXT NOT NULL DEFAULT '{}',
	attempts            INTEGER NOT NULL DEFAULT 0,
	status              TEXT NOT NULL,
	correlation_id      TEXT NOT NULL DEFAULT '',
	partition_key       TEXT NOT NULL DEFAULT '',
	last_error          TEXT NOT NULL DEFAULT '',
	provider_message_id TEXT NOT NULL DEFAULT '',
	next_attempt_at     INTEGER,
	created_at          INTEGER NOT NULL,
	updated_at          INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_jobs_status ON dispatch_jobs(status, created_at);

CREATE TABLE IF NOT EXISTS dead_jobs (
	job_id          TEXT PRIMARY KEY,
	channel         TEXT NOT NULL,
	recipient       TEXT NOT NULL,
	template_id     TEXT NOT NULL,
	correlation_id  TEXT NOT NULL DEFAULT '',
	data            TEXT NOT NULL DEFAULT '{}',
	attempts        INTEGER NOT NULL,
	failure_type    TEXT NOT NULL,
	last_error      TEXT NOT NULL DEFAULT '',
	first_failed_at INTEGER NOT NULL,
	last_attempt_at INTEGER NOT NULL
);

INSERT INTO schema_version (version) VALUES (1);
`,
	},
	{
		version: 2,
		sql: `
CREATE TABLE IF NOT EXISTS client_access_keys (
	id             TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL,
	key_value      TEXT NOT NULL,
	permissions    TEXT NOT NULL DEFAULT '[]',
	active         INTEGER NOT NULL DEFAULT 1,
	created_at     INTEGER NOT NULL,
	expires_at     INTEGER NOT NULL,
	deactivated_at INTEGER
);

CREATE INDEX IF NOT EXISTS idx_keys_active_expiry ON client_access_keys(active, expires_at);

CREATE TABLE IF NOT EXISTS key_warning_ledger (
	key_id     TEXT NOT NULL REFERENCES client_access_keys(id) ON DELETE CASCADE,
	lead_hours INTEGER NOT NULL,
	sent_at    INTEGER NOT NULL,
	PRIMARY KEY (key_id, lead_hours)
);

CREATE TABLE IF NOT EXISTS client_contacts (
	client_id TEXT PRIMARY KEY,
	name      TEXT NOT NULL DEFAULT '',
	email     TEXT NOT NULL DEFAULT '',
	phone     TEXT NOT NULL DEFAULT ''
);

INSERT INTO schema_version (version) VALUES (2);
`,
	},
	{
		version: 3,
		sql: `
CREATE TABLE IF NOT EXISTS rule_executions (
	id             INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id       TEXT NOT NULL,
	rule_id        TEXT NOT NULL,
	trigger_type   TEXT NOT NULL,
	entity_id      TEXT NOT NULL,
	state          TEXT NOT NULL,
	failed_actions TEXT NOT NULL DEFAULT '[]',
	job_ids        TEXT NOT NULL DEFAULT '[]',
	error          TEXT NOT NULL DEFAULT '',
	executed_at    INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_executions_event ON rule_executions(event_id);

INSERT INTO schema_version (version) VALUES (3);
`,
	},
	{
		version: 4,
		sql: `
CREATE TABLE IF NOT EXISTS entity_clients (
	entity_id  TEXT PRIMARY KEY,
	client_id  TEXT NOT NULL,
	updated_at INTEGER NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_entity_clients_client ON entity_clients(client_id);

INSERT INTO schema_version (version) VALUES (4);
`,
	},
}
