package sqlite

import (
	"database/sql"
	"fmt"
	"time"
)

const schema = `
CREATE TABLE IF NOT EXISTS merchants (
	id            TEXT PRIMARY KEY,
	name          TEXT NOT NULL,
	email         TEXT NOT NULL UNIQUE,
	password_hash TEXT NOT NULL,
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS api_keys (
	id          TEXT PRIMARY KEY,
	merchant_id TEXT NOT NULL REFERENCES merchants(id),
	key_hash    TEXT NOT NULL UNIQUE,
	label       TEXT NOT NULL DEFAULT '',
	created_at  TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS tabs (
	id            TEXT PRIMARY KEY,
	merchant_id   TEXT NOT NULL REFERENCES merchants(id),
	customer_name TEXT NOT NULL DEFAULT '',
	currency      TEXT NOT NULL DEFAULT 'USD',
	status        TEXT NOT NULL DEFAULT 'open',
	created_at    TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS billing_groups (
	id                    TEXT PRIMARY KEY,
	tab_id                TEXT NOT NULL REFERENCES tabs(id),
	group_number          INTEGER NOT NULL,
	name                  TEXT NOT NULL,
	group_type            TEXT NOT NULL,
	status                TEXT NOT NULL DEFAULT 'active',
	payer_email           TEXT NOT NULL DEFAULT '',
	payer_org_id          TEXT NOT NULL DEFAULT '',
	credit_limit_cents    INTEGER,
	deposit_cents         INTEGER,
	deposit_applied_cents INTEGER NOT NULL DEFAULT 0,
	current_balance_cents INTEGER NOT NULL DEFAULT 0,
	created_at            TEXT NOT NULL,
	UNIQUE (tab_id, group_number)
);

CREATE TABLE IF NOT EXISTS line_items (
	id               TEXT PRIMARY KEY,
	tab_id           TEXT NOT NULL REFERENCES tabs(id),
	description      TEXT NOT NULL,
	quantity         INTEGER NOT NULL DEFAULT 1,
	unit_price_cents INTEGER NOT NULL,
	total_cents      INTEGER NOT NULL,
	billing_group_id TEXT REFERENCES billing_groups(id),
	metadata         TEXT NOT NULL DEFAULT '',
	created_at       TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_line_items_tab ON line_items(tab_id);
CREATE INDEX IF NOT EXISTS idx_line_items_group ON line_items(billing_group_id);

CREATE TABLE IF NOT EXISTS billing_group_rules (
	id         TEXT PRIMARY KEY,
	group_id   TEXT NOT NULL REFERENCES billing_groups(id),
	tab_id     TEXT NOT NULL REFERENCES tabs(id),
	name       TEXT NOT NULL,
	priority   INTEGER NOT NULL DEFAULT 100,
	action     TEXT NOT NULL,
	conditions TEXT NOT NULL DEFAULT '',
	is_active  INTEGER NOT NULL DEFAULT 1,
	metadata   TEXT NOT NULL DEFAULT '',
	created_at TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_rules_tab ON billing_group_rules(tab_id);

CREATE TABLE IF NOT EXISTS billing_group_overrides (
	id                TEXT PRIMARY KEY,
	tab_id            TEXT NOT NULL REFERENCES tabs(id),
	line_item_id      TEXT NOT NULL REFERENCES line_items(id),
	original_group_id TEXT,
	new_group_id      TEXT NOT NULL REFERENCES billing_groups(id),
	bypassed_rule_id  TEXT,
	reason            TEXT NOT NULL DEFAULT '',
	actor_id          TEXT NOT NULL,
	created_at        TEXT NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_overrides_tab ON billing_group_overrides(tab_id);
`

func runMigrations(db *sql.DB) error {
	if _, err := db.Exec(schema); err != nil {
		return fmt.Errorf("failed to execute schema: %w", err)
	}
	return nil
}

// Timestamps are stored as RFC 3339 text with sub-second precision so that
// creation-order tie-breaks survive the round trip.
func fmtTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339Nano)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse timestamp %q: %w", s, err)
	}
	return t, nil
}
