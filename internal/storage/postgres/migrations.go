package postgres

// schema is applied by Migrate. Statements are idempotent.
var schema = []string{
	`CREATE TABLE IF NOT EXISTS jobs (
		job_id            UUID PRIMARY KEY,
		stage             TEXT NOT NULL,
		status            TEXT NOT NULL CHECK (status IN ('pending', 'running', 'completed', 'failed')),
		parameters        JSONB NOT NULL DEFAULT '{}'::jsonb,
		progress          JSONB,
		result            JSONB,
		error             TEXT,
		parent_job_id     UUID REFERENCES jobs (job_id),
		worker_id         TEXT,
		created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		started_at        TIMESTAMPTZ,
		completed_at      TIMESTAMPTZ,
		enqueued_at       TIMESTAMPTZ,
		last_heartbeat_at TIMESTAMPTZ,
		updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_created ON jobs (created_at DESC, job_id DESC)`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_pending ON jobs (status, enqueued_at) WHERE status = 'pending'`,
	`CREATE INDEX IF NOT EXISTS idx_jobs_running ON jobs (status, last_heartbeat_at) WHERE status = 'running'`,
	`CREATE TABLE IF NOT EXISTS posts (
		id            TEXT PRIMARY KEY,
		platform      TEXT NOT NULL,
		title         TEXT NOT NULL DEFAULT '',
		body          TEXT NOT NULL DEFAULT '',
		author        TEXT NOT NULL DEFAULT '',
		url           TEXT NOT NULL DEFAULT '',
		score         INTEGER NOT NULL DEFAULT 0,
		comment_count INTEGER NOT NULL DEFAULT 0,
		created_at    TIMESTAMPTZ NOT NULL
	)`,
	`CREATE INDEX IF NOT EXISTS idx_posts_created ON posts (created_at DESC, id DESC)`,
	`CREATE TABLE IF NOT EXISTS post_stage_results (
		post_id      TEXT NOT NULL REFERENCES posts (id) ON DELETE CASCADE,
		stage        TEXT NOT NULL,
		output       JSONB NOT NULL,
		fallback     BOOLEAN NOT NULL DEFAULT FALSE,
		processed_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		PRIMARY KEY (post_id, stage)
	)`,
}
