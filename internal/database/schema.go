package database

// Schema is applied at open. DDL is idempotent so restarting against an
// existing database is safe; there is no separate migration step.
const schemaDDL = `
CREATE TABLE IF NOT EXISTS users (
    id             TEXT PRIMARY KEY,
    user_name      TEXT NOT NULL DEFAULT '',
    full_name      TEXT NOT NULL DEFAULT '',
    last_active_at DATETIME
);

CREATE TABLE IF NOT EXISTS rooms (
    id         INTEGER PRIMARY KEY AUTOINCREMENT,
    name       TEXT NOT NULL,
    created_by TEXT NOT NULL,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS room_members (
    room_id   INTEGER NOT NULL,
    user_id   TEXT NOT NULL,
    joined_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (room_id, user_id),
    FOREIGN KEY (room_id) REFERENCES rooms(id)
);

CREATE TABLE IF NOT EXISTS messages (
    id              INTEGER PRIMARY KEY AUTOINCREMENT,
    room_id         INTEGER NOT NULL,
    sender_id       TEXT NOT NULL,
    content         TEXT NOT NULL,
    sentiment_score TEXT NOT NULL DEFAULT '0',
    sentiment_label TEXT NOT NULL DEFAULT 'neutral',
    sent_at         DATETIME NOT NULL,
    FOREIGN KEY (room_id) REFERENCES rooms(id)
);

CREATE INDEX IF NOT EXISTS idx_messages_room_sent ON messages(room_id, sent_at DESC, id DESC);

CREATE TABLE IF NOT EXISTS read_receipts (
    message_id INTEGER NOT NULL,
    user_id    TEXT NOT NULL,
    read_at    DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP,
    PRIMARY KEY (message_id, user_id),
    FOREIGN KEY (message_id) REFERENCES messages(id)
);
`
