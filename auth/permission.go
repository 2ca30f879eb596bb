package auth

import (
	"context"
	"fmt"
	"reflect"
	"slices"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// Capability is an action a user may be granted on a single object.
type Capability string

const (
	Read   Capability = "read"
	Write  Capability = "write"
	Delete Capability = "delete"
)

func (c Capability) column() string {
	return "can_" + string(c)
}

// ObjectPermission grants one user capabilities on one object. The object is
// a weak reference: its table name and primary key.
type ObjectPermission struct {
	ID          uint   `json:"id" gorm:"primaryKey"`
	ContentType string `json:"content_type" gorm:"type:text;not null;uniqueIndex:idx_object_permission"`
	ObjectID    string `json:"object_id" gorm:"type:text;not null;uniqueIndex:idx_object_permission"`
	UserID      uint   `json:"user_id" gorm:"not null;uniqueIndex:idx_object_permission"`
	CanRead     bool   `json:"can_read" gorm:"not null;default:false"`
	CanWrite    bool   `json:"can_write" gorm:"not null;default:false"`
	CanDelete   bool   `json:"can_delete" gorm:"not null;default:false"`
}

// ContentType resolves obj to the table name and primary key identifying it
// in grant rows.
func ContentType(db *gorm.DB, obj any) (contentType, objectID string, err error) {
	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(obj); err != nil {
		return "", "", fmt.Errorf("resolve content type of %T: %w", obj, err)
	}
	field := stmt.Schema.PrioritizedPrimaryField
	if field == nil {
		return "", "", fmt.Errorf("resolve content type of %T: %w", obj, gorm.ErrPrimaryKeyRequired)
	}
	id, zero := field.ValueOf(db.Statement.Context, reflect.Indirect(reflect.ValueOf(obj)))
	if zero {
		return "", "", fmt.Errorf("resolve content type of %T: %w", obj, gorm.ErrPrimaryKeyRequired)
	}
	return stmt.Schema.Table, fmt.Sprint(id), nil
}

// Grant gives user the capabilities on obj, adding to any existing grant.
func Grant(ctx context.Context, db *gorm.DB, user *User, obj any, caps ...Capability) error {
	if len(caps) == 0 {
		return fmt.Errorf("grant: no capabilities")
	}
	contentType, objectID, err := ContentType(db, obj)
	if err != nil {
		return err
	}
	perm := ObjectPermission{ContentType: contentType, ObjectID: objectID, UserID: user.ID}
	var columns []string
	for _, c := range caps {
		if slices.Contains(columns, c.column()) {
			continue
		}
		switch c {
		case Read:
			perm.CanRead = true
		case Write:
			perm.CanWrite = true
		case Delete:
			perm.CanDelete = true
		default:
			return fmt.Errorf("grant %q: unknown capability", c)
		}
		columns = append(columns, c.column())
	}
	err = db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "content_type"}, {Name: "object_id"}, {Name: "user_id"}},
		DoUpdates: clause.AssignmentColumns(columns),
	}).Create(&perm).Error
	if err != nil {
		return fmt.Errorf("grant %v on %s/%s to user %d: %w", caps, contentType, objectID, user.ID, err)
	}
	return nil
}

// Revoke removes every capability user holds on obj.
func Revoke(ctx context.Context, db *gorm.DB, user *User, obj any) error {
	contentType, objectID, err := ContentType(db, obj)
	if err != nil {
		return err
	}
	err = db.WithContext(ctx).
		Where("content_type = ? AND object_id = ? AND user_id = ?", contentType, objectID, user.ID).
		Delete(&ObjectPermission{}).Error
	if err != nil {
		return fmt.Errorf("revoke %s/%s from user %d: %w", contentType, objectID, user.ID, err)
	}
	return nil
}
