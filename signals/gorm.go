package signals

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

const commitCallback = "gorm:commit_or_rollback_transaction"

// Instance is one record taking part in a create, update or delete.
type Instance struct {
	// DB is a session on the connection of the triggering statement, so
	// queries made with it join its transaction while one is open. It
	// carries no state of that statement.
	DB *gorm.DB
	// Model is a pointer to the record.
	Model  any
	Schema *schema.Schema

	stmt  *gorm.Statement
	value reflect.Value
}

// TypeName is the lower-cased Go type name of the record, e.g. "partner".
func (i Instance) TypeName() string {
	return strings.ToLower(i.Schema.Name)
}

// PrimaryKey returns the record's primary key and whether it is set.
func (i Instance) PrimaryKey(ctx context.Context) (any, bool) {
	field := i.Schema.PrioritizedPrimaryField
	if field == nil {
		return nil, false
	}
	v, zero := field.ValueOf(ctx, i.value)
	return v, !zero
}

// SetColumn assigns a column on the record so that the pending statement
// writes it, whether the statement saves the struct or a column map.
func (i Instance) SetColumn(ctx context.Context, name string, value any) error {
	field := i.Schema.LookUpField(name)
	if field == nil {
		return fmt.Errorf("%w: %s", gorm.ErrInvalidField, name)
	}
	if err := field.Set(ctx, i.value, value); err != nil {
		return err
	}
	if dest, ok := i.stmt.Dest.(map[string]any); ok {
		dest[field.DBName] = value
	}
	return nil
}

// SaveEvent is sent before and after a record is written.
type SaveEvent struct {
	Instance
	// Created is true when the write inserted the record.
	Created bool
}

// CommitEvent is sent once a save has been committed or rolled back.
type CommitEvent struct {
	SaveEvent
	// Err is the error of the statement, nil when the save landed.
	Err error
}

// DeleteEvent is sent after a record is deleted.
type DeleteEvent struct {
	Instance
}

// Hooks is a GORM plugin exposing the create, update and delete callback
// chains as signals. PreSave, PostSave and PostDelete receivers run inside
// the statement's transaction; a receiver error is added to the statement
// and rolls it back.
//
// Updates and deletes only fire for records with a primary key, so bulk
// updates through db.Model(&T{}).Where(...) stay silent, and so does
// db.Delete(&T{}, id): load the record and delete it to reach PostDelete.
//
// PostCommit runs after the statement's own transaction ends, whatever its
// outcome. Inside a caller's transaction it runs at the end of the
// statement, on that transaction. A receiver error is reported by the
// statement but cannot undo a committed save.
type Hooks struct {
	PreSave    Signal[SaveEvent]
	PostSave   Signal[SaveEvent]
	PostCommit Signal[CommitEvent]
	PostDelete Signal[DeleteEvent]
}

// NewHooks returns a plugin with no receivers.
func NewHooks() *Hooks {
	return &Hooks{}
}

func (h *Hooks) Name() string {
	return "signals"
}

func (h *Hooks) Initialize(db *gorm.DB) error {
	cb := db.Callback()
	registrations := []struct {
		name string
		err  error
	}{
		{"create pre_save", cb.Create().Before("gorm:create").Register("signals:pre_save", h.saving(true, false))},
		{"create post_save", cb.Create().Before(commitCallback).Register("signals:post_save", h.saving(true, true))},
		{"update pre_save", cb.Update().Before("gorm:update").Register("signals:pre_save", h.saving(false, false))},
		{"update post_save", cb.Update().Before(commitCallback).Register("signals:post_save", h.saving(false, true))},
		{"create post_commit", cb.Create().After(commitCallback).Register("signals:post_commit", h.committed(true))},
		{"update post_commit", cb.Update().After(commitCallback).Register("signals:post_commit", h.committed(false))},
		{"delete post_delete", cb.Delete().Before(commitCallback).Register("signals:post_delete", h.deleted)},
	}
	for _, r := range registrations {
		if r.err != nil {
			return fmt.Errorf("register %s: %w", r.name, r.err)
		}
	}
	return nil
}

func (h *Hooks) saving(created, after bool) func(*gorm.DB) {
	sig := &h.PreSave
	if after {
		sig = &h.PostSave
	}
	return func(db *gorm.DB) {
		each(db, !created, func(ctx context.Context, i Instance) error {
			return sig.Send(ctx, SaveEvent{Instance: i, Created: created})
		})
	}
}

// committed runs whether or not the statement failed, so receivers can tell
// a landed save from a rolled back one.
func (h *Hooks) committed(created bool) func(*gorm.DB) {
	return func(db *gorm.DB) {
		if db.Statement.Schema == nil {
			return
		}
		failure := db.Error
		ctx := statementContext(db)
		for _, i := range instances(db, !created) {
			e := CommitEvent{SaveEvent: SaveEvent{Instance: i, Created: created}, Err: failure}
			if err := h.PostCommit.Send(ctx, e); err != nil {
				_ = db.AddError(err)
				return
			}
		}
	}
}

func (h *Hooks) deleted(db *gorm.DB) {
	each(db, true, func(ctx context.Context, i Instance) error {
		return h.PostDelete.Send(ctx, DeleteEvent{Instance: i})
	})
}

// each calls fn for every record addressed by a statement that has not
// failed, stopping at the first error, which is recorded on db.
func each(db *gorm.DB, requireKey bool, fn func(context.Context, Instance) error) {
	if db.Error != nil || db.Statement.Schema == nil {
		return
	}
	ctx := statementContext(db)
	for _, i := range instances(db, requireKey) {
		if err := fn(ctx, i); err != nil {
			_ = db.AddError(err)
			return
		}
	}
}

func statementContext(db *gorm.DB) context.Context {
	if ctx := db.Statement.Context; ctx != nil {
		return ctx
	}
	return context.Background()
}

// instances lists the records addressed by the statement, skipping those
// without a primary key when requireKey is set.
func instances(db *gorm.DB, requireKey bool) []Instance {
	stmt := db.Statement
	ctx := statementContext(db)

	var values []reflect.Value
	rv := stmt.ReflectValue
	switch rv.Kind() {
	case reflect.Slice, reflect.Array:
		for n := 0; n < rv.Len(); n++ {
			if v, ok := addressable(rv.Index(n)); ok {
				values = append(values, v)
			}
		}
	case reflect.Struct:
		if v, ok := addressable(rv); ok {
			values = append(values, v)
		}
	}

	tx := session(db)
	var out []Instance
	for _, v := range values {
		i := Instance{DB: tx, Model: v.Addr().Interface(), Schema: stmt.Schema, stmt: stmt, value: v}
		if requireKey {
			if _, ok := i.PrimaryKey(ctx); !ok {
				continue
			}
		}
		out = append(out, i)
	}
	return out
}

func addressable(v reflect.Value) (reflect.Value, bool) {
	for v.Kind() == reflect.Ptr || v.Kind() == reflect.Interface {
		if v.IsNil() {
			return reflect.Value{}, false
		}
		v = v.Elem()
	}
	if v.Kind() != reflect.Struct || !v.CanAddr() {
		return reflect.Value{}, false
	}
	return v, true
}

// session returns a DB bound to the statement's connection and context but
// none of its clauses. Session(&gorm.Session{NewDB: true}) alone is not
// enough: WithContext on it would clone the triggering statement.
func session(db *gorm.DB) *gorm.DB {
	tx := db.Session(&gorm.Session{NewDB: true})
	tx.Statement = &gorm.Statement{
		DB:       tx,
		ConnPool: db.Statement.ConnPool,
		Context:  db.Statement.Context,
		Clauses:  map[string]clause.Clause{},
		Vars:     make([]any, 0, 8),
	}
	return tx
}
