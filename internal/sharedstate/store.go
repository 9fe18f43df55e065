// Package sharedstate is the key/value store shared by every viewer context
// of one identity, with change notifications delivered to every context
// except the writer's own. It is the only channel the viewer components use
// to coordinate across contexts.
package sharedstate

// Keys used by the viewer components.
const (
	// KeyActiveClaim names the context currently holding the active-viewer
	// claim.
	KeyActiveClaim = "viewer.active"
	// KeyHeartbeat is the active context's proof-of-life record.
	KeyHeartbeat = "viewer.heartbeat"
	// KeySession holds the persisted auth session.
	KeySession = "viewer.session"
	// KeyAuthNotice holds a human-readable sign-out reason for the next start.
	KeyAuthNotice = "viewer.auth-notice"
)

// ChangeFunc receives the new value of a watched key. ok is false when the
// key was deleted.
type ChangeFunc func(value string, ok bool)

// Store is one context's handle on the shared state. A write through one
// handle is visible to every handle's next Get, and the change notification
// fires on every other handle after the write, never on the writer's own.
type Store interface {
	Get(key string) (string, bool)
	Set(key, value string) error
	Delete(key string) error
	// OnChange registers fn for changes to key made by other contexts and
	// returns a function removing the registration.
	OnChange(key string, fn ChangeFunc) (unsubscribe func())
	Close() error
}
