package ledger

import "github.com/matst80/relay/internal/obs"

// Options selects and configures a backend. Redis wins over SQLite; with
// neither set the ledger lives in memory.
type Options struct {
	RedisAddr     string
	RedisPassword string
	RedisDB       int
	RedisPrefix   string
	SQLitePath    string
	Keep          int // recent records retained by memory and redis backends
}

// Open creates the store described by opts.
func Open(opts Options) (Store, error) {
	switch {
	case opts.RedisAddr != "":
		obs.Info("ledger.backend", obs.Fields{"type": "redis", "addr": opts.RedisAddr})
		return NewRedisStore(opts.RedisAddr, opts.RedisPassword, opts.RedisDB, opts.RedisPrefix, opts.Keep)
	case opts.SQLitePath != "":
		obs.Info("ledger.backend", obs.Fields{"type": "sqlite", "path": opts.SQLitePath})
		return NewSQLiteStore(opts.SQLitePath)
	default:
		obs.Info("ledger.backend", obs.Fields{"type": "in-memory"})
		return NewMemoryStore(opts.Keep), nil
	}
}
