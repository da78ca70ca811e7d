package store

// Queued messages are scoped by a namespace derived from the authenticated
// user id, so switching accounts on the same device cannot leak another
// user's queue. The (namespace, id) primary key makes Append idempotent per
// client-assigned id.
const schema = `
CREATE TABLE IF NOT EXISTS queued_messages (
	namespace   TEXT NOT NULL,
	id          TEXT NOT NULL,
	sender      TEXT NOT NULL,
	receiver    TEXT NOT NULL,
	content     TEXT NOT NULL,
	subject     TEXT,
	status      TEXT NOT NULL DEFAULT 'queued-offline',
	created_at  TIMESTAMP NOT NULL,
	queued_at   TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (namespace, id)
);

CREATE INDEX IF NOT EXISTS idx_queued_messages_peer
	ON queued_messages(namespace, receiver, created_at);
`
