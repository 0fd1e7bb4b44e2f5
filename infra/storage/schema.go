package storage

// accounts and users belong to the listing service; they are created here so
// the escrow service can run against its own database.

const sqliteSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL REFERENCES users(id),
	price REAL NOT NULL CHECK (price > 0),
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at DATETIME DEFAULT CURRENT_TIMESTAMP
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	order_code TEXT,
	checkout_url TEXT,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	buyer_id TEXT NOT NULL REFERENCES users(id),
	seller_id TEXT NOT NULL,
	amount REAL NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'CANCELLED')),
	encrypted_credentials BLOB NOT NULL,
	created_at DATETIME NOT NULL,
	completed_at DATETIME,
	cancelled_at DATETIME
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_order_code ON transactions(order_code);
CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_buyer_account ON transactions(buyer_id, account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`

const postgresSchema = `
CREATE TABLE IF NOT EXISTS users (
	id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS accounts (
	id TEXT PRIMARY KEY,
	seller_id TEXT NOT NULL REFERENCES users(id),
	price NUMERIC(12, 2) NOT NULL CHECK (price > 0),
	status TEXT NOT NULL DEFAULT 'PENDING',
	created_at TIMESTAMPTZ DEFAULT NOW()
);

CREATE TABLE IF NOT EXISTS transactions (
	id TEXT PRIMARY KEY,
	order_code TEXT,
	checkout_url TEXT,
	account_id TEXT NOT NULL REFERENCES accounts(id),
	buyer_id TEXT NOT NULL REFERENCES users(id),
	seller_id TEXT NOT NULL,
	amount NUMERIC(12, 2) NOT NULL,
	status TEXT NOT NULL CHECK (status IN ('PENDING', 'COMPLETED', 'CANCELLED')),
	encrypted_credentials BYTEA NOT NULL,
	created_at TIMESTAMPTZ NOT NULL,
	completed_at TIMESTAMPTZ,
	cancelled_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_order_code ON transactions(order_code);
CREATE UNIQUE INDEX IF NOT EXISTS uq_transactions_buyer_account ON transactions(buyer_id, account_id);
CREATE INDEX IF NOT EXISTS idx_transactions_status ON transactions(status);
`
