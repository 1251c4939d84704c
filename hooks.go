package entcache

// Hooks are lightweight callbacks for high-signal events.
// Implementations MUST be cheap and non-blocking; wrap slow ones with
// hooks/async.
type Hooks interface {
	// Entries were loaded from storage. id is "" for a whole-entity load.
	Hydrated(entity, id string, count int)
	HydrateFailed(entity, id string, err error)

	// A write to storage failed. With queued writes this is the only place
	// the failure is reported.
	PersistFailed(entity, id string, err error)

	// Publishing a mutation to siblings failed. The local mutation stands.
	PublishFailed(entity, id string, err error)

	// A sibling's mutation was applied. kind ∈ {"set", "remove"}
	RemoteApplied(entity, kind, id string)
	// A sibling message could not be decoded or applied.
	RemoteRejected(entity string, err error)
}

// NopHooks is the default no-op
type NopHooks struct{}

func (NopHooks) Hydrated(string, string, int)         {}
func (NopHooks) HydrateFailed(string, string, error)  {}
func (NopHooks) PersistFailed(string, string, error)  {}
func (NopHooks) PublishFailed(string, string, error)  {}
func (NopHooks) RemoteApplied(string, string, string) {}
func (NopHooks) RemoteRejected(string, error)         {}
