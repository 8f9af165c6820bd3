/*
Package gridsession provides replicated session management for Go web
applications: sessions live in a shared backend (a distributed data grid such
as Redis, or Memcached/SQLite/PostgreSQL) so any node of a cluster can serve
any client, and a sanitization pass keeps the replicated attribute set safe.

It offers a unified API for managing user sessions with support for multiple
persistence backends, from simple single-server setups to clustered
deployments.

Key Features:

  - Modular Storage: Pluggable storage architecture supporting Redis, Memcached, SQLite (CGO-free), and PostgreSQL.
  - Replication Safety:
  - Attribute sanitization: attributes that cannot be serialized for replication are pruned on session initialization.
  - Pure Keep/Remove classification policy, separately testable from the mutation step.
  - Per-session processing guard so concurrent init events never run two sanitization passes for one session.
  - Security:
  - Session ID regeneration to prevent session fixation attacks.
  - Strict session ID validation.
  - Secure default cookie settings (HttpOnly, SameSite).
  - Context-aware storage operations.
  - Performance:
  - Efficient session data serialization using gob.
  - Configurable maximum session size to prevent abuse.
  - Buffer pooling to reduce memory allocations.
  - Automatic Cleanup: Configurable background worker to remove expired sessions.

Usage:

Initialize a storage backend (Store), create a Manager, and wire the
Configurator to the manager's lifecycle hooks.

	store := gridsession.NewRedisStore(gridsession.RedisConfig{
		Addr:        "localhost:6379",
		ClusterName: "demo-cluster",
	})
	defer store.Close()

	cfgr := gridsession.NewConfigurator(gridsession.ConfiguratorConfig{
		Sanitizer: gridsession.NewSanitizer(gridsession.SanitizerConfig{
			Policy: gridsession.DefaultPolicy(),
		}),
	})

	mgr := gridsession.NewManager(gridsession.Config{
		Store:            store,
		TTL:              24 * time.Hour,
		CookieName:       "session_id",
		OnSessionInit:    cfgr.SessionInit,
		OnSessionDestroy: cfgr.SessionDestroy,
	})
	defer mgr.Close()

	http.HandleFunc("/save", func(w http.ResponseWriter, r *http.Request) {
		session, _ := mgr.Get(r)
		session.Set("userMessage", r.FormValue("message"))
		if err := mgr.Save(w, r, session); err != nil {
			http.Error(w, "Failed to save session", http.StatusInternalServerError)
		}
	})

Store Implementations:

  - Redis: Uses github.com/redis/go-redis/v9; the shared grid for multi-node replication.
  - Memcached: Uses github.com/bradfitz/gomemcache for high-performance, in-memory caching.
  - SQLite: Uses modernc.org/sqlite for a CGO-free, embedded database experience.
  - PostgreSQL: uses github.com/lib/pq for robust, relational database storage.

Thread Safety:

The Manager, Store implementations, Guard and Configurator are safe for
concurrent use by multiple goroutines. Session accessors (Set/Get/Delete) are
individually thread-safe; compound read-modify-write sequences should still be
scoped to a single request.
*/
package gridsession
