package auth

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
)

var (
	// ErrAnonymousUser reports a missing or unknown anonymous user id. It is
	// a configuration error, not a permission decision.
	ErrAnonymousUser = errors.New("auth: anonymous user is not configured")
	ErrUserNotFound  = errors.New("auth: user not found")
)

type User struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Username  string    `json:"username" gorm:"type:text;uniqueIndex"`
	Email     string    `json:"email" gorm:"type:text"`
	IsActive  bool      `json:"is_active" gorm:"default:true"`
	CreatedAt time.Time `json:"created_at"`
}

// IsAuthenticated is false for nil users and users without an id.
func (u *User) IsAuthenticated() bool {
	return u != nil && u.ID != 0
}

// Users resolves identities from the users table.
type Users struct {
	db          *gorm.DB
	anonymousID uint
}

func NewUsers(db *gorm.DB, anonymousID uint) *Users {
	return &Users{db: db, anonymousID: anonymousID}
}

func (u *Users) Get(ctx context.Context, id uint) (*User, error) {
	var user User
	if err := u.db.WithContext(ctx).First(&user, id).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: %d", ErrUserNotFound, id)
		}
		return nil, fmt.Errorf("get user %d: %w", id, err)
	}
	return &user, nil
}

// Anonymous loads the user standing in for unauthenticated requests.
func (u *Users) Anonymous(ctx context.Context) (*User, error) {
	if u.anonymousID == 0 {
		return nil, ErrAnonymousUser
	}
	user, err := u.Get(ctx, u.anonymousID)
	if errors.Is(err, ErrUserNotFound) {
		return nil, fmt.Errorf("%w: no user with id %d", ErrAnonymousUser, u.anonymousID)
	}
	return user, err
}
