package tracestore

const schemaSQL = `
CREATE TABLE IF NOT EXISTS traces (
	trace_id        TEXT PRIMARY KEY,
	created_at      INTEGER NOT NULL,
	finished_at     INTEGER,
	repo_url        TEXT NOT NULL,
	code_host       TEXT NOT NULL,
	error_signature TEXT NOT NULL DEFAULT '',
	error_excerpt   TEXT NOT NULL DEFAULT '',
	status          TEXT NOT NULL DEFAULT 'RUNNING',
	failure_step    TEXT,
	failure_message TEXT,
	mr_url          TEXT,
	commit_sha      TEXT
);

CREATE TABLE IF NOT EXISTS steps (
	id          INTEGER PRIMARY KEY AUTOINCREMENT,
	trace_id    TEXT NOT NULL REFERENCES traces(trace_id),
	step_name   TEXT NOT NULL,
	started_at  INTEGER NOT NULL,
	finished_at INTEGER,
	status      TEXT NOT NULL DEFAULT 'RUNNING',
	message     TEXT
);
CREATE INDEX IF NOT EXISTS idx_steps_trace ON steps(trace_id);

CREATE TABLE IF NOT EXISTS bug_cases (
	case_id        TEXT PRIMARY KEY,
	repo_url       TEXT NOT NULL,
	code_host      TEXT NOT NULL,
	signature      TEXT NOT NULL,
	exception_type TEXT NOT NULL DEFAULT '',
	message_key    TEXT NOT NULL DEFAULT '',
	top_frames     TEXT NOT NULL DEFAULT '[]',
	status         TEXT NOT NULL DEFAULT 'open',
	quality_score  REAL NOT NULL DEFAULT 0,
	created_at     INTEGER NOT NULL,
	updated_at     INTEGER NOT NULL,
	UNIQUE(repo_url, signature)
);

CREATE TABLE IF NOT EXISTS bug_case_revisions (
	revision_id         INTEGER PRIMARY KEY AUTOINCREMENT,
	case_id             TEXT NOT NULL REFERENCES bug_cases(case_id),
	trace_id            TEXT,
	trigger_type        TEXT NOT NULL,
	trigger_text        TEXT NOT NULL DEFAULT '',
	pr_url              TEXT,
	pr_title            TEXT,
	pr_body             TEXT,
	commit_sha          TEXT,
	changed_files_json  TEXT,
	diff_text           TEXT,
	preflight_ok        INTEGER NOT NULL DEFAULT 0,
	created_at          INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS idx_revisions_case ON bug_case_revisions(case_id);

CREATE VIRTUAL TABLE IF NOT EXISTS bug_cases_fts USING fts5(
	case_id UNINDEXED,
	text
);
`

// requiredColumns drives the idempotent migration check's
// "inspecting column metadata and adding missing columns" rule. New columns
// land here; migrate() adds any that are absent from an existing table.
var requiredColumns = map[string][]columnDef{
	"traces": {
		{"trace_id", "TEXT"}, {"created_at", "INTEGER"}, {"finished_at", "INTEGER"},
		{"repo_url", "TEXT"}, {"code_host", "TEXT"}, {"error_signature", "TEXT"},
		{"error_excerpt", "TEXT"}, {"status", "TEXT"}, {"failure_step", "TEXT"},
		{"failure_message", "TEXT"}, {"mr_url", "TEXT"}, {"commit_sha", "TEXT"},
	},
	"bug_cases": {
		{"case_id", "TEXT"}, {"repo_url", "TEXT"}, {"code_host", "TEXT"},
		{"signature", "TEXT"}, {"exception_type", "TEXT"}, {"message_key", "TEXT"},
		{"top_frames", "TEXT"}, {"status", "TEXT"}, {"quality_score", "REAL"},
		{"created_at", "INTEGER"}, {"updated_at", "INTEGER"},
	},
}

type columnDef struct {
	Name string
	Type string
}
