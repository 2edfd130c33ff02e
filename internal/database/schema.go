package database

import (
	"context"
	"fmt"
)

// schema holds conversations and both message sub-collections as JSONB
// documents. ts is the coerced millisecond ordering key written by the
// application; seq records insertion order for rows sharing a ts.
const schema = `
CREATE TABLE IF NOT EXISTS conversations (
	id         TEXT PRIMARY KEY,
	data       JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS conversation_messages (
	conversation_id TEXT NOT NULL,
	collection      TEXT NOT NULL CHECK (collection IN ('messages', 'msgs')),
	id              TEXT NOT NULL,
	data            JSONB NOT NULL,
	ts              BIGINT NOT NULL DEFAULT 0,
	seq             BIGSERIAL,
	PRIMARY KEY (conversation_id, collection, id)
);

CREATE INDEX IF NOT EXISTS conversation_messages_recent
	ON conversation_messages (conversation_id, collection, ts DESC, seq DESC);

CREATE OR REPLACE FUNCTION numeric_or_zero(v JSONB) RETURNS BIGINT AS $$
	SELECT CASE WHEN jsonb_typeof(v) = 'number' THEN (v #>> '{}')::numeric::bigint ELSE 0 END
$$ LANGUAGE sql IMMUTABLE;

CREATE OR REPLACE FUNCTION notify_conversation_messages() RETURNS trigger AS $$
DECLARE
	r RECORD;
BEGIN
	IF TG_OP = 'DELETE' THEN
		r := OLD;
	ELSE
		r := NEW;
	END IF;
	PERFORM pg_notify('conversation_messages', r.conversation_id || '/' || r.collection);
	RETURN NULL;
END;
$$ LANGUAGE plpgsql;

DROP TRIGGER IF EXISTS conversation_messages_notify ON conversation_messages;
CREATE TRIGGER conversation_messages_notify
	AFTER INSERT OR UPDATE OR DELETE ON conversation_messages
	FOR EACH ROW EXECUTE FUNCTION notify_conversation_messages();
`

// Migrate creates the tables, helper function and change trigger.
func Migrate(ctx context.Context) error {
	if Pool == nil {
		return fmt.Errorf("database not connected")
	}
	if _, err := Pool.Exec(ctx, schema); err != nil {
		return fmt.Errorf("failed to apply schema: %w", err)
	}
	return nil
}
