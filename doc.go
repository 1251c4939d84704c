// Package entcache implements a per-entity, process-local cache with
// optional durable persistence and optional multi-process synchronization.
//
// An entity is a named collection of ids ("users", "sessions"). A Registry
// holds at most one Store per entity name; the store keeps every entry in
// memory, hydrates from its persistence backend on first use and replicates
// mutations to sibling processes over a broadcast.Transport.
//
// Components:
//   - persist: where entries survive restarts. "entity" writes one JSON
//     document per entity, "key" one raw file per id, "provider" and
//     "provider-entity" write through a provider.Provider byte store.
//   - broadcast: Set/Remove messages between processes. Messages received
//     from a sibling are applied locally and never published again.
//   - clock: timestamps, strictly increasing per id.
//
// Usage:
//
//	reg := entcache.NewRegistry(entcache.RegistryOptions{})
//	users, err := entcache.Open(ctx, reg, "users", entcache.Options[User]{
//	    Persistence: persist.Entity,
//	    PersistURL:  "/var/lib/app/cache",
//	    Transport:   hub.Endpoint(),
//	})
//	_ = users.Set(ctx, "u1", User{Name: "Ada"})
//	u, ok, err := users.Get(ctx, "u1")
//
// Disk writes are queued and applied in order by a background writer; Set
// returns before the file is written. Use Flush to wait, or SyncWrites to
// write inline and get write errors back from Set and Remove.
package entcache
