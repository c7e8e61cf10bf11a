// internal/storage/schema.go
package storage

// schema holds the DDL for the controller's two tables. Record rows are
// keyed by the provider's record ID; host state rows are keyed by the
// full endpoint tuple so each candidate address tracks independently.
const schema = `
CREATE TABLE IF NOT EXISTS dns_records (
    id              TEXT PRIMARY KEY,
    zone_id         TEXT NOT NULL,
    name            TEXT NOT NULL,
    record_type     TEXT NOT NULL,
    content         TEXT NOT NULL,
    ttl             INTEGER NOT NULL DEFAULT 1,
    proxied         BOOLEAN NOT NULL DEFAULT FALSE,
    status          TEXT NOT NULL DEFAULT 'unknown',
    last_checked_at TIMESTAMPTZ,
    created_at      TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at      TIMESTAMPTZ NOT NULL DEFAULT NOW()
);

CREATE INDEX IF NOT EXISTS idx_dns_records_name_type ON dns_records (LOWER(name), record_type);
CREATE INDEX IF NOT EXISTS idx_dns_records_zone ON dns_records (zone_id);

CREATE TABLE IF NOT EXISTS host_states (
    zone_id           TEXT NOT NULL,
    name              TEXT NOT NULL,
    record_type       TEXT NOT NULL,
    content           TEXT NOT NULL,
    last_status       TEXT NOT NULL DEFAULT 'unknown',
    consecutive_up    INTEGER NOT NULL DEFAULT 0,
    consecutive_down  INTEGER NOT NULL DEFAULT 0,
    stable_status     TEXT NOT NULL DEFAULT 'unknown',
    stable_changed_at TIMESTAMPTZ,
    last_changed_at   TIMESTAMPTZ,
    last_checked_at   TIMESTAMPTZ,
    created_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    updated_at        TIMESTAMPTZ NOT NULL DEFAULT NOW(),
    PRIMARY KEY (zone_id, name, record_type, content)
);

CREATE INDEX IF NOT EXISTS idx_host_states_name ON host_states (LOWER(name), record_type);
`
