package registry

// Schema is the DDL for the registry and its detail ledgers. EnsureSchema on
// the Postgres store runs it verbatim; every statement is idempotent.
const Schema = `
CREATE TABLE IF NOT EXISTS organizations (
	org_id            TEXT PRIMARY KEY,
	name              TEXT NOT NULL DEFAULT '',
	state             TEXT NOT NULL DEFAULT '',
	start_url         TEXT,
	is_queried_search BOOLEAN NOT NULL DEFAULT FALSE,
	is_scraped        BOOLEAN NOT NULL DEFAULT FALSE,
	num_scraped       INTEGER NOT NULL DEFAULT 0,
	pdf_count         INTEGER NOT NULL DEFAULT 0,
	sbc_count         INTEGER NOT NULL DEFAULT 0,
	external_domain   TEXT
);

CREATE TABLE IF NOT EXISTS crawl_visits (
	id            BIGSERIAL PRIMARY KEY,
	org_id        TEXT NOT NULL,
	base_domain   TEXT NOT NULL,
	referring_url TEXT,
	url           TEXT NOT NULL,
	content_type  TEXT NOT NULL DEFAULT '',
	depth         INTEGER NOT NULL DEFAULT 0,
	visited_at    TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS documents (
	org_id       TEXT NOT NULL,
	url          TEXT NOT NULL,
	local_path   TEXT NOT NULL,
	content_hash TEXT NOT NULL,
	PRIMARY KEY (org_id, local_path)
);

CREATE TABLE IF NOT EXISTS sbc_checks (
	org_id     TEXT NOT NULL,
	local_path TEXT NOT NULL,
	is_sbc     BOOLEAN NOT NULL,
	PRIMARY KEY (org_id, local_path)
);

CREATE TABLE IF NOT EXISTS check_exceptions (
	local_path TEXT PRIMARY KEY,
	reason     TEXT NOT NULL DEFAULT ''
);

CREATE TABLE IF NOT EXISTS crawl_failures (
	url         TEXT PRIMARY KEY,
	base_domain TEXT NOT NULL DEFAULT '',
	category    TEXT NOT NULL DEFAULT '',
	failed_at   TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS seed_results (
	org_id     TEXT NOT NULL,
	rank       INTEGER NOT NULL,
	url        TEXT NOT NULL,
	queried_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
	PRIMARY KEY (org_id, rank)
);
`
