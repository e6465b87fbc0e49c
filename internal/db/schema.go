package db

// A number is held by at most one participant that has not expired; expired
// rows are kept for payment tracing.
//
// Timestamps are unix milliseconds in the SQLite dialect; amounts are decimal
// strings so no float rounding reaches the ledger.
var sqliteSchema = []string{
	`CREATE TABLE IF NOT EXISTS raffles (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		title TEXT NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		total_numbers INTEGER NOT NULL CHECK (total_numbers > 0),
		price_per_number TEXT NOT NULL,
		draw_date INTEGER NOT NULL,
		status TEXT NOT NULL DEFAULT 'active',
		winner_number INTEGER,
		lottery_number TEXT,
		reserve_hours INTEGER NOT NULL DEFAULT 0,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		raffle_id INTEGER NOT NULL REFERENCES raffles(id),
		number INTEGER NOT NULL,
		name TEXT NOT NULL,
		email TEXT NOT NULL,
		phone TEXT NOT NULL DEFAULT '',
		city TEXT NOT NULL DEFAULT '',
		status TEXT NOT NULL DEFAULT 'reserved',
		reserved_at INTEGER NOT NULL,
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		participant_id INTEGER NOT NULL UNIQUE REFERENCES participants(id),
		external_id TEXT NOT NULL UNIQUE,
		amount TEXT NOT NULL,
		status TEXT NOT NULL DEFAULT 'pending',
		qr_code TEXT NOT NULL DEFAULT '',
		qr_code_base64 TEXT NOT NULL DEFAULT '',
		created_at INTEGER NOT NULL,
		updated_at INTEGER NOT NULL
	)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_participants_live_number ON participants(raffle_id, number) WHERE status <> 'expired'`,
	`CREATE INDEX IF NOT EXISTS idx_participants_raffle_status ON participants(raffle_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
}

var postgresSchema = []string{
	`CREATE TABLE IF NOT EXISTS raffles (
		id BIGSERIAL PRIMARY KEY,
		title VARCHAR(255) NOT NULL,
		description TEXT NOT NULL DEFAULT '',
		total_numbers INTEGER NOT NULL CHECK (total_numbers > 0),
		price_per_number NUMERIC(10,2) NOT NULL,
		draw_date DATE NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'active',
		winner_number INTEGER,
		lottery_number VARCHAR(50),
		reserve_hours INTEGER NOT NULL DEFAULT 0,
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS participants (
		id BIGSERIAL PRIMARY KEY,
		raffle_id BIGINT NOT NULL REFERENCES raffles(id),
		number INTEGER NOT NULL,
		name VARCHAR(255) NOT NULL,
		email VARCHAR(255) NOT NULL,
		phone VARCHAR(20) NOT NULL DEFAULT '',
		city VARCHAR(100) NOT NULL DEFAULT '',
		status VARCHAR(20) NOT NULL DEFAULT 'reserved',
		reserved_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE TABLE IF NOT EXISTS payments (
		id BIGSERIAL PRIMARY KEY,
		participant_id BIGINT NOT NULL UNIQUE REFERENCES participants(id),
		external_id VARCHAR(255) NOT NULL UNIQUE,
		amount NUMERIC(10,2) NOT NULL,
		status VARCHAR(20) NOT NULL DEFAULT 'pending',
		qr_code TEXT NOT NULL DEFAULT '',
		qr_code_base64 TEXT NOT NULL DEFAULT '',
		created_at TIMESTAMPTZ NOT NULL DEFAULT NOW(),
		updated_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
	)`,
	`CREATE INDEX IF NOT EXISTS idx_raffles_status ON raffles(status)`,
	`CREATE UNIQUE INDEX IF NOT EXISTS uq_participants_live_number ON participants(raffle_id, number) WHERE status <> 'expired'`,
	`CREATE INDEX IF NOT EXISTS idx_participants_raffle_status ON participants(raffle_id, status)`,
	`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,
}
