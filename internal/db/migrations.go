package db

type migration struct {
	name string
	sql  string
}

// Timestamps on chat tables are unix nanoseconds so ORDER BY matches
// chronological order exactly.
var migrations = []migration{
	{
		name: "create participants table",
		sql: `
			CREATE TABLE IF NOT EXISTS participants (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				display_name TEXT NOT NULL,
				short_id TEXT UNIQUE NOT NULL COLLATE NOCASE,
				role TEXT NOT NULL DEFAULT 'member',
				password_hash TEXT NOT NULL DEFAULT '',
				active BOOLEAN NOT NULL DEFAULT 1,
				last_seen_at DATETIME,
				created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
				updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
			)
		`,
	},
	{
		name: "create messages table",
		sql: `
			CREATE TABLE IF NOT EXISTS messages (
				id TEXT PRIMARY KEY,
				scope_id TEXT NOT NULL DEFAULT '',
				sender_id INTEGER NOT NULL REFERENCES participants(id) ON DELETE RESTRICT,
				content TEXT NOT NULL CHECK (length(trim(content)) > 0),
				is_private BOOLEAN NOT NULL DEFAULT 0,
				created_at INTEGER NOT NULL,
				deleted_at INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_messages_scope ON messages(scope_id, created_at);
		`,
	},
	{
		name: "create message mentions",
		sql: `
			CREATE TABLE IF NOT EXISTS message_mentions (
				message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				participant_id INTEGER NOT NULL REFERENCES participants(id) ON DELETE RESTRICT,
				PRIMARY KEY (message_id, participant_id)
			);
			CREATE INDEX IF NOT EXISTS idx_message_mentions_participant ON message_mentions(participant_id);
		`,
	},
	{
		name: "create message read receipts",
		sql: `
			CREATE TABLE IF NOT EXISTS message_reads (
				message_id TEXT NOT NULL REFERENCES messages(id) ON DELETE CASCADE,
				participant_id INTEGER NOT NULL REFERENCES participants(id) ON DELETE RESTRICT,
				read_at INTEGER NOT NULL,
				PRIMARY KEY (message_id, participant_id)
			)
		`,
	},
	{
		name: "create notification outbox",
		sql: `
			CREATE TABLE IF NOT EXISTS notification_outbox (
				id INTEGER PRIMARY KEY AUTOINCREMENT,
				recipient_id INTEGER NOT NULL,
				title TEXT NOT NULL,
				body TEXT NOT NULL,
				channel_hint TEXT NOT NULL DEFAULT '',
				created_at INTEGER NOT NULL,
				delivered_at INTEGER
			);
			CREATE INDEX IF NOT EXISTS idx_notification_outbox_pending ON notification_outbox(delivered_at, id);
		`,
	},
}
