package streams

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"github.com/anthrotech-dev/partners/auth"
)

var (
	ErrNoStream = errors.New("streams: owner has no stream")
	ErrNoOwner  = errors.New("streams: stream has no owner")
)

// Of loads the stream owned by owner.
func Of(ctx context.Context, db *gorm.DB, owner Streamable) (*Stream, error) {
	ref := owner.StreamRef()
	if ref.StreamID == nil {
		return nil, ErrNoStream
	}
	var stream Stream
	if err := session(ctx, db).First(&stream, *ref.StreamID).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%w: stream %d is gone", ErrNoStream, *ref.StreamID)
		}
		return nil, fmt.Errorf("load stream %d: %w", *ref.StreamID, err)
	}
	return &stream, nil
}

func Get(ctx context.Context, db *gorm.DB, id uint) (*Stream, error) {
	var stream Stream
	if err := session(ctx, db).First(&stream, id).Error; err != nil {
		return nil, fmt.Errorf("load stream %d: %w", id, err)
	}
	return &stream, nil
}

// Owner loads the record owning stream. Each candidate is a pointer to a
// zero value of a model that may own it; the first match is filled in and
// returned.
func Owner(ctx context.Context, db *gorm.DB, stream *Stream, candidates ...Streamable) (Streamable, error) {
	for _, owner := range candidates {
		err := session(ctx, db).Where("stream_id = ?", stream.ID).Take(owner).Error
		if err == nil {
			return owner, nil
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("load owner of stream %d: %w", stream.ID, err)
		}
	}
	return nil, fmt.Errorf("%w: stream %d", ErrNoOwner, stream.ID)
}

// Activities lists the activities of a stream, newest first.
func Activities(ctx context.Context, db *gorm.DB, stream *Stream, limit int) ([]Activity, error) {
	var activities []Activity
	q := session(ctx, db).Model(stream).Order("activities.created DESC, activities.id DESC")
	if limit > 0 {
		q = q.Limit(limit)
	}
	if err := q.Association("Activities").Find(&activities); err != nil {
		return nil, fmt.Errorf("list activities of stream %d: %w", stream.ID, err)
	}
	return activities, nil
}

func Follow(ctx context.Context, db *gorm.DB, stream *Stream, user *auth.User) error {
	if err := session(ctx, db).Model(stream).Association("Followers").Append(user); err != nil {
		return fmt.Errorf("follow stream %d as user %d: %w", stream.ID, user.ID, err)
	}
	return nil
}

func Unfollow(ctx context.Context, db *gorm.DB, stream *Stream, user *auth.User) error {
	if err := session(ctx, db).Model(stream).Association("Followers").Delete(user); err != nil {
		return fmt.Errorf("unfollow stream %d as user %d: %w", stream.ID, user.ID, err)
	}
	return nil
}

// IsFollower reports whether user follows stream.
func IsFollower(ctx context.Context, db *gorm.DB, stream *Stream, user *auth.User) (bool, error) {
	var n int64
	err := session(ctx, db).Table("stream_followers").
		Where("stream_id = ? AND user_id = ?", stream.ID, user.ID).
		Count(&n).Error
	if err != nil {
		return false, fmt.Errorf("check follower of stream %d: %w", stream.ID, err)
	}
	return n > 0, nil
}

// Subscribe registers user's interest in activities with the signature
// slug, creating the signature on first use. Subscribing twice is a no-op.
func Subscribe(ctx context.Context, db *gorm.DB, user *auth.User, slug string) (*Subscription, error) {
	if slug == "" {
		return nil, fmt.Errorf("subscribe user %d: empty signature", user.ID)
	}
	var sub Subscription
	err := session(ctx, db).Transaction(func(tx *gorm.DB) error {
		sig := Signature{Slug: slug}
		if err := tx.Where("slug = ?", slug).FirstOrCreate(&sig).Error; err != nil {
			return err
		}
		created := Subscription{SignatureID: sig.ID, UserID: user.ID}
		if err := tx.Clauses(clause.OnConflict{DoNothing: true}).Create(&created).Error; err != nil {
			return err
		}
		if err := tx.Where("signature_id = ? AND user_id = ?", sig.ID, user.ID).First(&sub).Error; err != nil {
			return err
		}
		sub.Signature = &sig
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("subscribe user %d to %q: %w", user.ID, slug, err)
	}
	return &sub, nil
}

func Unsubscribe(ctx context.Context, db *gorm.DB, user *auth.User, slug string) error {
	tx := session(ctx, db)
	err := tx.Where("user_id = ? AND signature_id IN (?)", user.ID,
		tx.Model(&Signature{}).Select("id").Where("slug = ?", slug)).
		Delete(&Subscription{}).Error
	if err != nil {
		return fmt.Errorf("unsubscribe user %d from %q: %w", user.ID, slug, err)
	}
	return nil
}

// Notifications lists user's notifications, newest first.
func Notifications(ctx context.Context, db *gorm.DB, user *auth.User, unreadOnly bool) ([]Notification, error) {
	q := session(ctx, db).Where("user_id = ?", user.ID)
	if unreadOnly {
		q = q.Where("read_at IS NULL")
	}
	var out []Notification
	if err := q.Order("created DESC, id DESC").Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list notifications of user %d: %w", user.ID, err)
	}
	return out, nil
}

// MarkRead marks one of user's notifications as read. It returns
// gorm.ErrRecordNotFound when the notification is not theirs.
func MarkRead(ctx context.Context, db *gorm.DB, user *auth.User, id uint) error {
	res := session(ctx, db).Model(&Notification{}).
		Where("id = ? AND user_id = ?", id, user.ID).
		Update("read_at", time.Now().UTC())
	if res.Error != nil {
		return fmt.Errorf("mark notification %d read: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return gorm.ErrRecordNotFound
	}
	return nil
}

// getOrCreateNotification inserts n unless a notification with the same
// key exists, then loads the stored row into n. The unique key makes this
// safe against concurrent writers sharing the store.
func getOrCreateNotification(db *gorm.DB, n *Notification) error {
	n.Key = notificationKey(n.SignatureID, n.UserID, n.Created, n.Description, n.Title)
	if err := db.Clauses(clause.OnConflict{DoNothing: true}).Create(n).Error; err != nil {
		return fmt.Errorf("create notification for user %d: %w", n.UserID, err)
	}
	var stored Notification
	if err := db.Where(&Notification{Key: n.Key}).First(&stored).Error; err != nil {
		return fmt.Errorf("load notification for user %d: %w", n.UserID, err)
	}
	*n = stored
	return nil
}
