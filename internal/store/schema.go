package store

// migration is one ledger-tracked schema change: a version, a human
// description, and the ordered SQL statements that apply it. Each
// migration's statements run inside a single transaction together with
// its ledger insert (§4.2, §9 "keep SQL in one file per migration
// version" — collapsed here to one Go literal per version since SQLite's
// trigger bodies contain semicolons that a naive file-splitter would
// misparse).
type migration struct {
	Version     int
	Description string
	Statements  []string
}

var migrations = []migration{
	{
		Version:     1,
		Description: "initial schema: sessions, user_prompts, observations, summaries, queue_items",
		Statements: []string{
			`CREATE TABLE sessions (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				external_key TEXT NOT NULL UNIQUE,
				project TEXT NOT NULL,
				first_prompt TEXT,
				prompt_count INTEGER NOT NULL DEFAULT 0,
				status TEXT NOT NULL DEFAULT 'active',
				created_at INTEGER NOT NULL,
				completed_at INTEGER
			)`,
			`CREATE INDEX idx_sessions_project ON sessions(project, created_at DESC)`,
			`CREATE TABLE user_prompts (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL REFERENCES sessions(id),
				prompt_num INTEGER NOT NULL,
				text TEXT NOT NULL,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_user_prompts_session ON user_prompts(session_id)`,
			`CREATE TABLE observations (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL REFERENCES sessions(id),
				prompt_num INTEGER NOT NULL,
				tool_name TEXT NOT NULL,
				raw_input TEXT,
				compressed TEXT NOT NULL,
				obs_type TEXT NOT NULL,
				title TEXT NOT NULL,
				narrative TEXT NOT NULL,
				hmac TEXT,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_observations_session ON observations(session_id, created_at)`,
			`CREATE INDEX idx_observations_created ON observations(created_at)`,
			`CREATE TABLE summaries (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL REFERENCES sessions(id),
				request TEXT,
				investigated TEXT,
				learned TEXT,
				completed TEXT,
				next_steps TEXT,
				created_at INTEGER NOT NULL
			)`,
			`CREATE INDEX idx_summaries_session ON summaries(session_id, created_at DESC)`,
			`CREATE TABLE queue_items (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				session_id INTEGER NOT NULL REFERENCES sessions(id),
				type TEXT NOT NULL,
				payload TEXT NOT NULL,
				status TEXT NOT NULL DEFAULT 'pending',
				retry_count INTEGER NOT NULL DEFAULT 0,
				error TEXT,
				created_at INTEGER NOT NULL,
				started_at INTEGER,
				completed_at INTEGER
			)`,
			`CREATE INDEX idx_queue_status ON queue_items(status, created_at)`,
			`CREATE INDEX idx_queue_session ON queue_items(session_id)`,
		},
	},
	{
		Version:     2,
		Description: "FTS5 external-content index over observations, kept in sync by triggers",
		Statements: []string{
			`CREATE VIRTUAL TABLE observations_fts USING fts5(
				title, narrative, compressed, tool_name,
				content='observations', content_rowid='id'
			)`,
			`INSERT INTO observations_fts(rowid, title, narrative, compressed, tool_name)
				SELECT id, title, narrative, compressed, tool_name FROM observations`,
			`CREATE TRIGGER observations_ai AFTER INSERT ON observations BEGIN
				INSERT INTO observations_fts(rowid, title, narrative, compressed, tool_name)
				VALUES (new.id, new.title, new.narrative, new.compressed, new.tool_name);
			END`,
			`CREATE TRIGGER observations_ad AFTER DELETE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, title, narrative, compressed, tool_name)
				VALUES ('delete', old.id, old.title, old.narrative, old.compressed, old.tool_name);
			END`,
			`CREATE TRIGGER observations_au AFTER UPDATE ON observations BEGIN
				INSERT INTO observations_fts(observations_fts, rowid, title, narrative, compressed, tool_name)
				VALUES ('delete', old.id, old.title, old.narrative, old.compressed, old.tool_name);
				INSERT INTO observations_fts(rowid, title, narrative, compressed, tool_name)
				VALUES (new.id, new.title, new.narrative, new.compressed, new.tool_name);
			END`,
		},
	},
}
