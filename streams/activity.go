package streams

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"go.uber.org/zap"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/observable"
)

// Attach posts activity on streams and sends an Added membership event in
// the same transaction. Attaching an activity to a stream it already
// belongs to is allowed; the fan-out reuses existing notifications.
func (m *Manager) Attach(ctx context.Context, db *gorm.DB, activity *Activity, streams ...Stream) error {
	return m.changeMembership(ctx, db, Added, activity, streams)
}

// Detach removes activity from streams and sends a Removed membership event.
func (m *Manager) Detach(ctx context.Context, db *gorm.DB, activity *Activity, streams ...Stream) error {
	return m.changeMembership(ctx, db, Removed, activity, streams)
}

func (m *Manager) changeMembership(ctx context.Context, db *gorm.DB, action Action, activity *Activity, streams []Stream) error {
	if len(streams) == 0 {
		return nil
	}
	values := make([]any, len(streams))
	for i := range streams {
		values[i] = &streams[i]
	}
	return session(ctx, db).Transaction(func(tx *gorm.DB) error {
		assoc := tx.Model(activity).Association("Streams")
		var err error
		if action == Added {
			err = assoc.Append(values...)
		} else {
			err = assoc.Delete(values...)
		}
		if err != nil {
			return fmt.Errorf("%s activity %d streams: %w", action, activity.ID, err)
		}
		return m.Membership.Send(ctx, MembershipEvent{DB: tx, Action: action, Activity: activity, Streams: streams})
	})
}

// Publish stores activity, or reuses the one with the same ExternalID, and
// attaches it to streams.
func (m *Manager) Publish(ctx context.Context, db *gorm.DB, activity *Activity, streams ...Stream) error {
	return session(ctx, db).Transaction(func(tx *gorm.DB) error {
		if activity.ExternalID != nil {
			err := tx.Where(Activity{ExternalID: activity.ExternalID}).FirstOrCreate(activity).Error
			if err != nil {
				return fmt.Errorf("store activity %s: %w", *activity.ExternalID, err)
			}
		} else if err := tx.Create(activity).Error; err != nil {
			return fmt.Errorf("store activity: %w", err)
		}
		return m.Attach(ctx, tx, activity, streams...)
	})
}

// RecordChanges posts a "changed" activity on the stream of a streamable
// model. Connect it to observable.Notifier.Changed.
func (m *Manager) RecordChanges(ctx context.Context, e observable.ChangeEvent) error {
	owner, ok := e.Model.(Streamable)
	if !ok || owner.StreamRef().StreamID == nil {
		return nil
	}
	stmt := &gorm.Statement{DB: e.DB}
	if err := stmt.Parse(e.Model); err != nil {
		return fmt.Errorf("record changes of %T: %w", e.Model, err)
	}
	subject := strings.ToLower(stmt.Schema.Name)

	fields := e.Changes.Fields()
	sort.Strings(fields)
	changes := datatypes.JSONMap{}
	for _, name := range fields {
		c := e.Changes[name]
		changes[name] = map[string]any{"old": c.Old, "new": c.New}
	}
	activity := &Activity{
		Subject:     subject,
		Verb:        "changed",
		Title:       fmt.Sprintf("%s %s changed", subject, describe(e.Model)),
		Description: "Changed " + strings.Join(fields, ", "),
		Context:     changes,
	}
	return m.Publish(ctx, e.DB, activity, Stream{ID: *owner.StreamRef().StreamID})
}

func describe(model any) string {
	if s, ok := model.(fmt.Stringer); ok {
		return fmt.Sprintf("%q", s.String())
	}
	return ""
}

func (m *Manager) notifyActivity(ctx context.Context, e MembershipEvent) error {
	if e.Action != Added {
		return nil
	}
	activity := e.Activity
	signature := activity.Signature()

	var sig Signature
	err := e.DB.Where("slug = ?", signature).First(&sig).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil
	} else if err != nil {
		return fmt.Errorf("load signature %q: %w", signature, err)
	}

	var subscriptions []Subscription
	if err := e.DB.Where("signature_id = ?", sig.ID).Order("id").Find(&subscriptions).Error; err != nil {
		return fmt.Errorf("load %q subscriptions: %w", signature, err)
	}
	if len(subscriptions) == 0 {
		return nil
	}

	var streamIDs []uint
	err = e.DB.Table("activity_streams").Where("activity_id = ?", activity.ID).Pluck("stream_id", &streamIDs).Error
	if err != nil {
		return fmt.Errorf("load streams of activity %d: %w", activity.ID, err)
	}
	if len(streamIDs) == 0 {
		return nil
	}

	notified := 0
	for _, sub := range subscriptions {
		// One notification per subscription, however many of the
		// activity's streams the user follows.
		var follows int64
		err := e.DB.Table("stream_followers").
			Where("stream_id IN ? AND user_id = ?", streamIDs, sub.UserID).
			Count(&follows).Error
		if err != nil {
			return fmt.Errorf("check follower %d: %w", sub.UserID, err)
		}
		if follows == 0 {
			continue
		}
		n := Notification{
			SignatureID: sub.SignatureID,
			UserID:      sub.UserID,
			Created:     activity.Created,
			Description: activity.Description,
			Title:       activity.String(),
		}
		if err := getOrCreateNotification(e.DB, &n); err != nil {
			return err
		}
		notified++
	}
	m.log.Debug("activity fanned out",
		zap.Uint("activity", activity.ID),
		zap.String("signature", signature),
		zap.Int("subscriptions", len(subscriptions)),
		zap.Int("notified", notified))
	return nil
}
