// Package streams keeps one activity stream per streamable model and fans
// activities posted on streams out to subscribed followers as notifications.
package streams

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/signals"
)

// Action tells whether activities joined or left streams.
type Action int

const (
	Added Action = iota + 1
	Removed
)

func (a Action) String() string {
	switch a {
	case Added:
		return "added"
	case Removed:
		return "removed"
	}
	return fmt.Sprintf("Action(%d)", int(a))
}

// MembershipEvent is sent after an activity's set of streams changed.
type MembershipEvent struct {
	// DB is bound to the transaction that changed the membership.
	DB       *gorm.DB
	Action   Action
	Activity *Activity
	// Streams are the streams added or removed, not the full set.
	Streams []Stream
}

type Manager struct {
	Membership signals.Signal[MembershipEvent]

	log *zap.Logger
}

type Option func(*Manager)

func WithLogger(log *zap.Logger) Option {
	return func(m *Manager) {
		m.log = log
	}
}

func NewManager(opts ...Option) *Manager {
	m := &Manager{log: zap.NewNop()}
	for _, opt := range opts {
		opt(m)
	}
	return m
}

// Install connects the stream lifecycle to the save and delete signals and
// the notification fan-out to Membership.
func (m *Manager) Install(hooks *signals.Hooks) {
	hooks.PreSave.Connect("streams.create_stream", m.createStream)
	hooks.PostSave.Connect("streams.update_stream", m.updateStream)
	hooks.PostDelete.Connect("streams.delete_stream", m.deleteStream)
	m.Membership.Connect("streams.notify_activity", m.notifyActivity)
}

// ProvisionalSlug names the stream of an owner that has no primary key yet.
func ProvisionalSlug(typeName string) string {
	return typeName + "_stream"
}

// Slug names the stream of a persisted owner.
func Slug(typeName string, id any) string {
	return fmt.Sprintf("%s_%v_stream", typeName, id)
}

func (m *Manager) createStream(ctx context.Context, e signals.SaveEvent) error {
	owner, ok := e.Model.(Streamable)
	if !ok || owner.StreamRef().StreamID != nil {
		return nil
	}
	stream := Stream{Slug: ProvisionalSlug(e.TypeName())}
	if err := e.DB.Create(&stream).Error; err != nil {
		return fmt.Errorf("create %s stream: %w", e.TypeName(), err)
	}
	m.log.Debug("stream created", zap.String("owner", e.TypeName()), zap.Uint("stream", stream.ID))
	return e.SetColumn(ctx, "stream_id", &stream.ID)
}

func (m *Manager) updateStream(ctx context.Context, e signals.SaveEvent) error {
	owner, ok := e.Model.(Streamable)
	if !ok || owner.StreamRef().StreamID == nil {
		return nil
	}
	id, ok := e.PrimaryKey(ctx)
	if !ok {
		return nil
	}
	streamID := *owner.StreamRef().StreamID
	err := e.DB.Model(&Stream{}).Where("id = ?", streamID).Update("slug", Slug(e.TypeName(), id)).Error
	if err != nil {
		return fmt.Errorf("rename stream %d: %w", streamID, err)
	}
	return nil
}

// deleteStream removes the owner's stream with its memberships and
// followers. Activities stay: they may be posted on other streams.
func (m *Manager) deleteStream(ctx context.Context, e signals.DeleteEvent) error {
	owner, ok := e.Model.(Streamable)
	if !ok || owner.StreamRef().StreamID == nil {
		return nil
	}
	ref := owner.StreamRef()
	stream := Stream{ID: *ref.StreamID}
	if err := e.DB.Select("Activities", "Followers").Delete(&stream).Error; err != nil {
		return fmt.Errorf("delete stream %d: %w", stream.ID, err)
	}
	ref.StreamID = nil
	m.log.Debug("stream deleted", zap.String("owner", e.TypeName()), zap.Uint("stream", stream.ID))
	return nil
}

// session detaches db from any statement it is chained from while keeping
// its connection, so callers may pass a listener's DB.
func session(ctx context.Context, db *gorm.DB) *gorm.DB {
	return db.Session(&gorm.Session{NewDB: true, Context: ctx})
}
