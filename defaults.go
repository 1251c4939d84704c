package entcache

const (
	defaultPersistURL = "."
	defaultEntityKey  = "value"
	defaultWriteQueue = 256
)

// coalesce returns def when v is the zero value of T - otherwise v.
func coalesce[T comparable](v, def T) T {
	var zero T
	if v == zero {
		return def
	}
	return v
}

// persistenceDisabled reports whether name turns persistence off.
func persistenceDisabled(name string) bool {
	return name == "" || name == "false"
}
