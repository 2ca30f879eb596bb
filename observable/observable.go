// Package observable adds dirty tracking to GORM models. A model opts in by
// embedding Tracker and writing fields through Set or SetPtr; after an update
// is committed the Notifier sends the fields whose value really changed.
package observable

import (
	"context"

	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/signals"
)

// Change is the value a field had before the first write of a save cycle
// and the value it holds now.
type Change struct {
	Old any `json:"old"`
	New any `json:"new"`
}

// Changes maps a column name to its change.
type Changes map[string]Change

// Fields returns the changed column names.
func (c Changes) Fields() []string {
	fields := make([]string, 0, len(c))
	for name := range c {
		fields = append(fields, name)
	}
	return fields
}

// Tracker holds the pending changes of one in-memory record. Embed it with
// `gorm:"-"`. The zero value tracks nothing yet. A Tracker belongs to a
// single instance and is not safe for concurrent writers.
type Tracker struct {
	changes Changes
}

// ChangeSet makes every type embedding Tracker a Trackable.
func (t *Tracker) ChangeSet() *Tracker {
	return t
}

// Trackable is implemented by models enrolled in change tracking.
type Trackable interface {
	ChangeSet() *Tracker
}

func (t *Tracker) record(field string, old, new any) {
	if t.changes == nil {
		t.changes = Changes{}
	}
	if c, ok := t.changes[field]; ok {
		c.New = new
		t.changes[field] = c
		return
	}
	t.changes[field] = Change{Old: old, New: new}
}

// Pending returns a copy of the recorded changes, including fields whose
// value went back to the original.
func (t *Tracker) Pending() Changes {
	out := make(Changes, len(t.changes))
	for k, v := range t.changes {
		out[k] = v
	}
	return out
}

// flush resets the tracker and returns the fields whose new value differs
// from the old one.
func (t *Tracker) flush() Changes {
	diff := Changes{}
	for name, c := range t.changes {
		if c.New != c.Old {
			diff[name] = c
		}
	}
	t.changes = nil
	return diff
}

// Set records the write of value into *field under the column name and
// performs it.
func Set[T comparable](t Trackable, name string, field *T, value T) {
	t.ChangeSet().record(name, *field, value)
	*field = value
}

// SetPtr is Set for nullable columns. Pointed-to values are recorded, nil is
// recorded as nil.
func SetPtr[T comparable](t Trackable, name string, field **T, value *T) {
	t.ChangeSet().record(name, deref(*field), deref(value))
	*field = value
}

func deref[T comparable](p *T) any {
	if p == nil {
		return nil
	}
	return *p
}

// ChangeEvent is sent once per committed update with at least one changed
// field.
type ChangeEvent struct {
	// DB runs on the caller's transaction when the save was part of one,
	// on the pool otherwise.
	DB      *gorm.DB
	Model   any
	Changes Changes
}

// Notifier turns committed saves of Trackable models into ChangeEvents. A
// save that rolls back leaves the tracker untouched, so the next attempt
// reports the same changes.
type Notifier struct {
	Changed signals.Signal[ChangeEvent]
}

func NewNotifier() *Notifier {
	return &Notifier{}
}

// Install connects the notifier to the post-commit signal.
func (n *Notifier) Install(hooks *signals.Hooks) {
	hooks.PostCommit.Connect("observable.notify_changes", n.notify)
}

func (n *Notifier) notify(ctx context.Context, e signals.CommitEvent) error {
	t, ok := e.Model.(Trackable)
	if !ok || e.Err != nil {
		return nil
	}
	changes := t.ChangeSet().flush()
	if e.Created || len(changes) == 0 {
		return nil
	}
	return n.Changed.Send(ctx, ChangeEvent{DB: e.DB, Model: e.Model, Changes: changes})
}
