// Package auth answers object-level permission questions from per-object
// grant rows and resolves the users they refer to.
package auth

import (
	"context"
	"fmt"
	"reflect"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Backend checks capabilities on single objects and narrows listings to the
// objects a user holds a capability on. It keeps no cache: every check is a
// query.
type Backend struct {
	db    *gorm.DB
	users *Users
}

func NewBackend(db *gorm.DB, users *Users) *Backend {
	return &Backend{db: db, users: users}
}

// ParseCapability extracts the capability from a permission string such as
// "partners.write_partner": the text after the last dot, up to the first
// underscore. "view" and "change" are accepted for read and write.
func ParseCapability(perm string) (Capability, bool) {
	if i := strings.LastIndexByte(perm, '.'); i >= 0 {
		perm = perm[i+1:]
	}
	token, _, _ := strings.Cut(perm, "_")
	switch token {
	case "read", "view":
		return Read, true
	case "write", "change":
		return Write, true
	case "delete":
		return Delete, true
	}
	return "", false
}

// HasPerm reports whether user holds perm on obj. Unauthenticated users are
// checked as the configured anonymous user; a nil obj or an unparseable
// perm is denied. The only errors are storage failures and a missing
// anonymous user.
func (b *Backend) HasPerm(ctx context.Context, user *User, perm string, obj any) (bool, error) {
	user, err := b.resolve(ctx, user)
	if err != nil {
		return false, err
	}
	if isNil(obj) {
		return false, nil
	}
	capability, ok := ParseCapability(perm)
	if !ok {
		return false, nil
	}
	contentType, objectID, err := ContentType(b.db, obj)
	if err != nil {
		return false, err
	}

	var n int64
	err = b.db.WithContext(ctx).
		Model(&ObjectPermission{}).
		Where("content_type = ? AND object_id = ? AND user_id = ?", contentType, objectID, user.ID).
		Where(capability.column()+" = ?", true).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check %s on %s/%s for user %d: %w", capability, contentType, objectID, user.ID, err)
	}
	return n > 0, nil
}

// Granted returns a scope limiting a query on model's table to the rows user
// holds perm on, with the same anonymous substitution as HasPerm. An
// unparseable perm matches nothing.
func (b *Backend) Granted(ctx context.Context, user *User, perm string, model any) (func(*gorm.DB) *gorm.DB, error) {
	user, err := b.resolve(ctx, user)
	if err != nil {
		return nil, err
	}
	stmt := &gorm.Statement{DB: b.db}
	if err := stmt.Parse(model); err != nil {
		return nil, fmt.Errorf("scope %T: %w", model, err)
	}
	pk := stmt.Schema.PrioritizedPrimaryField
	if pk == nil {
		return nil, fmt.Errorf("scope %T: %w", model, gorm.ErrPrimaryKeyRequired)
	}
	capability, ok := ParseCapability(perm)
	if !ok {
		return func(q *gorm.DB) *gorm.DB { return q.Where("1 = 0") }, nil
	}

	granted := b.db.WithContext(ctx).
		Model(&ObjectPermission{}).
		Select("object_id").
		Where("content_type = ? AND user_id = ?", stmt.Schema.Table, user.ID).
		Where(capability.column()+" = ?", true)
	// object ids are stored as text
	column := clause.Column{Table: stmt.Schema.Table, Name: pk.DBName}
	return func(q *gorm.DB) *gorm.DB {
		return q.Where("CAST(? AS TEXT) IN (?)", column, granted)
	}, nil
}

func (b *Backend) resolve(ctx context.Context, user *User) (*User, error) {
	if user.IsAuthenticated() {
		return user, nil
	}
	return b.users.Anonymous(ctx)
}

func isNil(obj any) bool {
	if obj == nil {
		return true
	}
	v := reflect.ValueOf(obj)
	switch v.Kind() {
	case reflect.Ptr, reflect.Interface, reflect.Map, reflect.Slice:
		return v.IsNil()
	}
	return false
}
