// Package keys builds the local storage keys used by the sync engine.
//
// Record collections exist in two variants: a legacy global key
// (<app>_<entity>_logs) written before accounts were introduced and a
// user-scoped key (<app>_<user>_<entity>_logs). Readers merge both, writers
// update both.
package keys

import "strings"

const sep = "_"

// Namespace identifies one storage namespace: an application and, optionally,
// the signed-in user.
type Namespace struct {
	App  string
	User string
}

// New returns a namespace for app scoped to user. An empty user means the
// pre-account global layout.
func New(app, user string) Namespace {
	return Namespace{App: app, User: user}
}

// scoped joins parts under the app prefix and, when set, the user segment.
func (n Namespace) scoped(parts ...string) string {
	segs := []string{n.App}
	if n.User != "" {
		segs = append(segs, n.User)
	}
	return strings.Join(append(segs, parts...), sep)
}

// LegacyCollection returns the global collection key for entity.
func (n Namespace) LegacyCollection(entity string) string {
	return strings.Join([]string{n.App, entity, "logs"}, sep)
}

// Collection returns the primary collection key for entity: the user-scoped
// key when a user is set, the legacy key otherwise.
func (n Namespace) Collection(entity string) string {
	return n.scoped(entity, "logs")
}

// CollectionVariants returns every key a collection is stored under, primary
// first. Without a user both variants coincide and a single key is returned.
func (n Namespace) CollectionVariants(entity string) []string {
	primary := n.Collection(entity)
	legacy := n.LegacyCollection(entity)
	if primary == legacy {
		return []string{primary}
	}
	return []string{primary, legacy}
}

// Queue returns the operation queue key.
func (n Namespace) Queue() string {
	return n.scoped("sync", "queue")
}

// State returns the sync state key.
func (n Namespace) State() string {
	return n.scoped("sync", "state")
}

// Device returns the device id key. The device id belongs to the install,
// not to a user, so it is never user-scoped.
func (n Namespace) Device() string {
	return strings.Join([]string{n.App, "device", "id"}, sep)
}
