package store

// Stores is the top-level container for all storage backends.
// Both modes (standalone SQLite, managed Postgres) populate every field.
type Stores struct {
	Gateway  GatewayStore
	Users    UserStore
	Sessions SessionStore
	Chat     ChatStore
	Digest   DigestStore
}

// StoreConfig carries backend settings into the store factories.
type StoreConfig struct {
	PostgresDSN string
	SQLitePath  string
}
