package sessionstore

import "orchestrator/pkg/logx"

// Open tries the durable SQLite backend first; if it cannot be opened, it
// transparently falls back to the in-process map-backed implementation
// behind the same Store interface, logging a warning, mirroring
// orchestrator/pkg/persistence's graceful-degrade shape (spec.md §4.1).
func Open(dbPath string, maxMessagesPerSession int) Store {
	log := logx.NewLogger("sessionstore")

	store, err := OpenSQLite(dbPath, maxMessagesPerSession)
	if err != nil {
		log.Warn("primary session store unavailable (%v), falling back to in-memory store", err)
		return NewMemoryStore(maxMessagesPerSession)
	}
	return store
}
