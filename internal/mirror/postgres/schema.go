package postgres

// Column names on the wager table are camelCase for historical reasons:
// the frontend ORM created them that way and both sides read the same
// database.
const schemaSQL = `
CREATE TABLE IF NOT EXISTS wager (
	id TEXT PRIMARY KEY,
	"creatorId" TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
	"counterId" TEXT REFERENCES "user"(id),
	stake INTEGER NOT NULL,
	description TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'Pending',
	outcome TEXT,
	"createdAt" TIMESTAMP NOT NULL DEFAULT now(),
	"updatedAt" TIMESTAMP NOT NULL DEFAULT now(),

	CONSTRAINT wager_status CHECK (status IN ('Pending','Countered','Resolved','Cancelled')),
	CONSTRAINT wager_outcome CHECK (outcome IS NULL OR outcome IN ('CreatorWon','CounterWon','Draw'))
);

CREATE TABLE IF NOT EXISTS event (
	id TEXT PRIMARY KEY,
	wager_id TEXT NOT NULL REFERENCES wager(id),
	type TEXT NOT NULL,
	created_at TIMESTAMP NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS event_wager_idx ON event (wager_id);

CREATE TABLE IF NOT EXISTS notification (
	id TEXT PRIMARY KEY,
	user_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
	type TEXT NOT NULL,
	message TEXT,
	wager_id TEXT NOT NULL REFERENCES wager(id),
	read BOOLEAN NOT NULL DEFAULT FALSE,
	created_at TIMESTAMP NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS notification_user_idx ON notification (user_id, created_at DESC);

CREATE TABLE IF NOT EXISTS proof (
	id TEXT PRIMARY KEY,
	wager_id TEXT NOT NULL REFERENCES wager(id) ON DELETE CASCADE,
	uploader_id TEXT NOT NULL REFERENCES "user"(id) ON DELETE CASCADE,
	text TEXT,
	image_url TEXT,
	created_at TIMESTAMP NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS relay_cursor (
	contract TEXT PRIMARY KEY,
	last_block BIGINT NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT now(),

	CONSTRAINT last_block_nonneg CHECK (last_block >= 0)
);
`
