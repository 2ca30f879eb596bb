// Package partners manages CRM partners, their contacts and jobs. Partners
// and contacts are change-tracked; every partner owns an activity stream
// that followers subscribe to.
package partners

import (
	"context"
	"fmt"

	"go.uber.org/zap"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/auth"
	"github.com/anthrotech-dev/partners/observable"
	"github.com/anthrotech-dev/partners/signals"
	"github.com/anthrotech-dev/partners/streams"
)

// Models lists every table of the module in migration order.
func Models() []any {
	return []any{
		&auth.User{},
		&auth.ObjectPermission{},
		&streams.Stream{},
		&streams.Activity{},
		&streams.Signature{},
		&streams.Subscription{},
		&streams.Notification{},
		&Contact{},
		&Partner{},
		&Job{},
	}
}

func Migrate(ctx context.Context, db *gorm.DB) error {
	if err := db.WithContext(ctx).AutoMigrate(Models()...); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}
	return nil
}

// Registry is the set of listeners installed on a database.
type Registry struct {
	Hooks   *signals.Hooks
	Changes *observable.Notifier
	Streams *streams.Manager
}

// Install wires stream lifecycle, change notification and activity fan-out
// into db. Listeners of one signal run in the order they are connected here.
func Install(db *gorm.DB, log *zap.Logger) (*Registry, error) {
	r := &Registry{
		Hooks:   signals.NewHooks(),
		Changes: observable.NewNotifier(),
		Streams: streams.NewManager(streams.WithLogger(log)),
	}
	r.Streams.Install(r.Hooks)
	r.Changes.Install(r.Hooks)
	r.Changes.Changed.Connect("streams.record_changes", r.Streams.RecordChanges)

	if err := db.Use(r.Hooks); err != nil {
		return nil, fmt.Errorf("install signals: %w", err)
	}
	return r, nil
}
