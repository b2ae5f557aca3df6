package sqlite

import "context"

// schemaStatements creates every table and index idempotently. Each
// statement runs through its own ExecContext call rather than one embedded
// multi-statement script — the pure-Go modernc.org/sqlite driver, like the
// rest of the in-process-vector-search store this is grounded on, executes
// one statement per call.
var schemaStatements = []string{
	`CREATE TABLE IF NOT EXISTS config (
		key   TEXT PRIMARY KEY,
		value TEXT NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS agents (
		name              TEXT PRIMARY KEY,
		token             TEXT NOT NULL UNIQUE,
		description       TEXT,
		workspace         TEXT NOT NULL,
		provider          TEXT NOT NULL,
		model             TEXT,
		reasoning_effort  TEXT,
		permission_level  TEXT NOT NULL,
		session_policy    TEXT,
		metadata          TEXT,
		created_at        INTEGER NOT NULL,
		last_seen_at      INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS agent_bindings (
		agent_name    TEXT NOT NULL REFERENCES agents(name) ON DELETE CASCADE,
		adapter_type  TEXT NOT NULL,
		adapter_token TEXT NOT NULL,
		PRIMARY KEY (agent_name, adapter_type),
		UNIQUE (adapter_type, adapter_token)
	)`,
	`CREATE TABLE IF NOT EXISTS envelopes (
		id          TEXT PRIMARY KEY,
		from_addr   TEXT NOT NULL,
		to_addr     TEXT NOT NULL,
		from_boss   INTEGER NOT NULL DEFAULT 0,
		content     TEXT NOT NULL,
		deliver_at  INTEGER,
		status      TEXT NOT NULL,
		created_at  INTEGER NOT NULL,
		metadata    TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_envelopes_due ON envelopes(status, to_addr, deliver_at, created_at)`,
	`CREATE TABLE IF NOT EXISTS cron_schedules (
		id                  TEXT PRIMARY KEY,
		agent_name          TEXT NOT NULL REFERENCES agents(name) ON DELETE CASCADE,
		cron                TEXT NOT NULL,
		timezone            TEXT,
		enabled             INTEGER NOT NULL DEFAULT 1,
		to_addr             TEXT NOT NULL,
		content             TEXT NOT NULL,
		metadata            TEXT,
		pending_envelope_id TEXT,
		created_at          INTEGER NOT NULL,
		updated_at          INTEGER
	)`,
	`CREATE TABLE IF NOT EXISTS agent_runs (
		id             TEXT PRIMARY KEY,
		agent_name     TEXT NOT NULL REFERENCES agents(name) ON DELETE CASCADE,
		started_at     INTEGER NOT NULL,
		completed_at   INTEGER,
		envelope_ids   TEXT NOT NULL,
		final_response TEXT,
		context_length INTEGER,
		status         TEXT NOT NULL,
		error          TEXT
	)`,
	`CREATE INDEX IF NOT EXISTS idx_agent_runs_agent ON agent_runs(agent_name, started_at)`,
}

func (s *Store) createSchema(ctx context.Context) error {
	for _, stmt := range schemaStatements {
		if _, err := s.db.ExecContext(ctx, stmt); err != nil {
			return err
		}
	}
	return nil
}
