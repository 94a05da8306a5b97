package store

import "database/sql"

// Migrate creates the schema in §3/§6 of spec.md if it does not already
// exist. Grounded on modules/database/migrations.go's plain
// database/sql-driven migration runner, but Soonish only ever needs the one
// "initial schema" migration (original_source/alembic/versions/62c63cc1c367_initial_schema.py
// shows the upstream used Alembic revisions; a from-scratch Go rewrite has
// no revision history to replay).
func Migrate(db *sql.DB, driver string) error {
	stmt := postgresSchema
	if driver == "sqlite" {
		stmt = sqliteSchema
	}
	_, err := db.Exec(stmt)
	return err
}

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	email TEXT NOT NULL,
	display_name TEXT NOT NULL,
	password_hash TEXT,
	is_verified INTEGER NOT NULL DEFAULT 0,
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (LOWER(email));

CREATE TABLE IF NOT EXISTS events (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	name TEXT NOT NULL,
	description TEXT,
	start_date TIMESTAMP NOT NULL,
	end_date TIMESTAMP,
	timezone TEXT NOT NULL,
	location TEXT,
	is_public INTEGER NOT NULL DEFAULT 0,
	organizer_user_id INTEGER NOT NULL REFERENCES users(id),
	workflow_id TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS events_start_date_idx ON events (start_date);
CREATE INDEX IF NOT EXISTS events_public_start_idx ON events (is_public, start_date);
CREATE UNIQUE INDEX IF NOT EXISTS events_workflow_id_idx ON events (workflow_id);

CREATE TABLE IF NOT EXISTS integrations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	tag TEXT NOT NULL,
	is_active INTEGER NOT NULL DEFAULT 1,
	type TEXT NOT NULL,
	delivery_url_cipher BLOB NOT NULL,
	config_cipher BLOB,
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS integrations_user_name_tag_idx ON integrations (user_id, name, tag);

CREATE TABLE IF NOT EXISTS subscriptions (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	user_id INTEGER NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_event_user_idx ON subscriptions (event_id, user_id);

CREATE TABLE IF NOT EXISTS subscription_selectors (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
	integration_id INTEGER REFERENCES integrations(id) ON DELETE CASCADE,
	tag TEXT
);
CREATE INDEX IF NOT EXISTS selectors_subscription_idx ON subscription_selectors (subscription_id);

CREATE TABLE IF NOT EXISTS subscription_reminders (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
	offset_seconds INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS reminders_subscription_idx ON subscription_reminders (subscription_id);

CREATE TABLE IF NOT EXISTS unsubscribe_tokens (
	token TEXT PRIMARY KEY,
	subscription_id INTEGER NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
	created_at TIMESTAMP NOT NULL,
	used_at TIMESTAMP,
	expires_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS unsubscribe_tokens_expires_idx ON unsubscribe_tokens (expires_at);

CREATE TABLE IF NOT EXISTS event_invitations (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	token TEXT NOT NULL,
	event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	email TEXT NOT NULL,
	invited_by_user_id INTEGER NOT NULL REFERENCES users(id),
	expires_at TIMESTAMP NOT NULL,
	used_at TIMESTAMP
);
CREATE UNIQUE INDEX IF NOT EXISTS event_invitations_token_idx ON event_invitations (token);

CREATE TABLE IF NOT EXISTS durable_timers (
	id TEXT PRIMARY KEY,
	fire_at TIMESTAMP NOT NULL,
	payload BLOB,
	fired INTEGER NOT NULL DEFAULT 0
);
CREATE INDEX IF NOT EXISTS durable_timers_due_idx ON durable_timers (fired, fire_at);

CREATE TABLE IF NOT EXISTS workflow_states (
	workflow_id TEXT PRIMARY KEY,
	event_id INTEGER NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	state TEXT NOT NULL,
	cancelled INTEGER NOT NULL DEFAULT 0,
	updated_at TIMESTAMP NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_states_state_idx ON workflow_states (state);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id BIGSERIAL PRIMARY KEY,
	email TEXT NOT NULL,
	display_name TEXT NOT NULL,
	password_hash TEXT,
	is_verified BOOLEAN NOT NULL DEFAULT false,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS users_email_lower_idx ON users (LOWER(email));

CREATE TABLE IF NOT EXISTS events (
	id BIGSERIAL PRIMARY KEY,
	name TEXT NOT NULL,
	description TEXT,
	start_date TIMESTAMPTZ NOT NULL,
	end_date TIMESTAMPTZ,
	timezone TEXT NOT NULL,
	location TEXT,
	is_public BOOLEAN NOT NULL DEFAULT false,
	organizer_user_id BIGINT NOT NULL REFERENCES users(id),
	workflow_id TEXT NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS events_start_date_idx ON events (start_date);
CREATE INDEX IF NOT EXISTS events_public_start_idx ON events (is_public, start_date);
CREATE UNIQUE INDEX IF NOT EXISTS events_workflow_id_idx ON events (workflow_id);

CREATE TABLE IF NOT EXISTS integrations (
	id BIGSERIAL PRIMARY KEY,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	name TEXT NOT NULL,
	tag TEXT NOT NULL,
	is_active BOOLEAN NOT NULL DEFAULT true,
	type TEXT NOT NULL,
	delivery_url_cipher BYTEA NOT NULL,
	config_cipher BYTEA,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS integrations_user_name_tag_idx ON integrations (user_id, name, tag);

CREATE TABLE IF NOT EXISTS subscriptions (
	id BIGSERIAL PRIMARY KEY,
	event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	user_id BIGINT NOT NULL REFERENCES users(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL
);
CREATE UNIQUE INDEX IF NOT EXISTS subscriptions_event_user_idx ON subscriptions (event_id, user_id);

CREATE TABLE IF NOT EXISTS subscription_selectors (
	id BIGSERIAL PRIMARY KEY,
	subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
	integration_id BIGINT REFERENCES integrations(id) ON DELETE CASCADE,
	tag TEXT
);
CREATE INDEX IF NOT EXISTS selectors_subscription_idx ON subscription_selectors (subscription_id);

CREATE TABLE IF NOT EXISTS subscription_reminders (
	id BIGSERIAL PRIMARY KEY,
	subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
	offset_seconds BIGINT NOT NULL
);
CREATE INDEX IF NOT EXISTS reminders_subscription_idx ON subscription_reminders (subscription_id);

CREATE TABLE IF NOT EXISTS unsubscribe_tokens (
	token TEXT PRIMARY KEY,
	subscription_id BIGINT NOT NULL REFERENCES subscriptions(id) ON DELETE CASCADE,
	created_at TIMESTAMPTZ NOT NULL,
	used_at TIMESTAMPTZ,
	expires_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS unsubscribe_tokens_expires_idx ON unsubscribe_tokens (expires_at);

CREATE TABLE IF NOT EXISTS event_invitations (
	id BIGSERIAL PRIMARY KEY,
	token TEXT NOT NULL,
	event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	email TEXT NOT NULL,
	invited_by_user_id BIGINT NOT NULL REFERENCES users(id),
	expires_at TIMESTAMPTZ NOT NULL,
	used_at TIMESTAMPTZ
);
CREATE UNIQUE INDEX IF NOT EXISTS event_invitations_token_idx ON event_invitations (token);

CREATE TABLE IF NOT EXISTS durable_timers (
	id TEXT PRIMARY KEY,
	fire_at TIMESTAMPTZ NOT NULL,
	payload BYTEA,
	fired BOOLEAN NOT NULL DEFAULT false
);
CREATE INDEX IF NOT EXISTS durable_timers_due_idx ON durable_timers (fired, fire_at);

CREATE TABLE IF NOT EXISTS workflow_states (
	workflow_id TEXT PRIMARY KEY,
	event_id BIGINT NOT NULL REFERENCES events(id) ON DELETE CASCADE,
	state TEXT NOT NULL,
	cancelled BOOLEAN NOT NULL DEFAULT false,
	updated_at TIMESTAMPTZ NOT NULL
);
CREATE INDEX IF NOT EXISTS workflow_states_state_idx ON workflow_states (state);
`
