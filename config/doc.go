// Package config resolves per-entity cache settings from layered sources:
// environment variables, caller options (optionally loaded from a TOML
// file), command-line arguments, then built-in defaults, in that order of
// precedence. An empty value at one layer falls through to the next.
//
// Recognized names, for an entity "users":
//
//	env                  option / flag
//	CACHE_PERSIST_URL    cache-persist-url
//	USERS_PERSISTENCE    users-persistence
//	CACHE_ENTITY_KEY     cache-entity-key
//	CACHE_LAZY_LOAD      cache-lazy-load
//
// The older "persistance" spelling is accepted for the persistence name.
// The strings "true" and "false" are read as booleans: persistence "false"
// disables persistence and "true" selects the entity backend.
package config
