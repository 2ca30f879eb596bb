package streams_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/auth"
	"github.com/anthrotech-dev/partners/internal/dbtest"
	"github.com/anthrotech-dev/partners/observable"
	"github.com/anthrotech-dev/partners/signals"
	"github.com/anthrotech-dev/partners/streams"
)

// Project owns a stream and tracks its changes.
type Project struct {
	ID   uint `gorm:"primaryKey"`
	Name string

	streams.Ref
	observable.Tracker `gorm:"-"`
}

func (p *Project) String() string   { return p.Name }
func (p *Project) SetName(v string) { observable.Set(p, "name", &p.Name, v) }

type env struct {
	db      *gorm.DB
	hooks   *signals.Hooks
	manager *streams.Manager
	ctx     context.Context
}

func setup(t *testing.T) *env {
	t.Helper()
	db := dbtest.Open(t,
		&auth.User{},
		&streams.Stream{},
		&streams.Activity{},
		&streams.Signature{},
		&streams.Subscription{},
		&streams.Notification{},
		&Project{},
	)
	hooks := signals.NewHooks()
	manager := streams.NewManager(streams.WithLogger(zaptest.NewLogger(t)))
	manager.Install(hooks)
	notifier := observable.NewNotifier()
	notifier.Install(hooks)
	notifier.Changed.Connect("streams.record_changes", manager.RecordChanges)
	require.NoError(t, db.Use(hooks))
	return &env{db: db, hooks: hooks, manager: manager, ctx: context.Background()}
}

func (e *env) project(t *testing.T, name string) *Project {
	t.Helper()
	p := &Project{Name: name}
	require.NoError(t, e.db.Create(p).Error)
	return p
}

func (e *env) user(t *testing.T, name string) *auth.User {
	t.Helper()
	u := &auth.User{Username: name}
	require.NoError(t, e.db.Create(u).Error)
	return u
}

func (e *env) stream(t *testing.T, owner streams.Streamable) *streams.Stream {
	t.Helper()
	s, err := streams.Of(e.ctx, e.db, owner)
	require.NoError(t, err)
	return s
}

func (e *env) notifications(t *testing.T, u *auth.User) []streams.Notification {
	t.Helper()
	list, err := streams.Notifications(e.ctx, e.db, u, false)
	require.NoError(t, err)
	return list
}

func TestCreateGivesOwnerAStream(t *testing.T) {
	e := setup(t)
	var provisional string
	e.hooks.PreSave.Connect("probe", func(ctx context.Context, ev signals.SaveEvent) error {
		p, ok := ev.Model.(*Project)
		if !ok || p.StreamID == nil {
			return nil
		}
		var s streams.Stream
		if err := ev.DB.First(&s, *p.StreamID).Error; err != nil {
			return err
		}
		provisional = s.Slug
		return nil
	})

	p := e.project(t, "apollo")
	require.NotNil(t, p.StreamID)
	assert.Equal(t, "project_stream", provisional)
	assert.Equal(t, streams.ProvisionalSlug("project"), provisional)

	s := e.stream(t, p)
	assert.Equal(t, streams.Slug("project", p.ID), s.Slug)

	var stored Project
	require.NoError(t, e.db.First(&stored, p.ID).Error)
	assert.Equal(t, p.StreamID, stored.StreamID)
}

func TestSaveKeepsStream(t *testing.T) {
	e := setup(t)
	p := e.project(t, "apollo")
	streamID := *p.StreamID

	p.SetName("gemini")
	require.NoError(t, e.db.Save(p).Error)
	require.NoError(t, e.db.Save(p).Error)

	assert.Equal(t, streamID, *p.StreamID)
	assert.Equal(t, streams.Slug("project", p.ID), e.stream(t, p).Slug)

	var n int64
	require.NoError(t, e.db.Model(&streams.Stream{}).Count(&n).Error)
	assert.EqualValues(t, 1, n)
}

func TestSaveCreatesMissingStream(t *testing.T) {
	e := setup(t)
	p := e.project(t, "apollo")
	require.NoError(t, e.db.Model(&streams.Stream{}).Where("id = ?", *p.StreamID).Delete(&streams.Stream{}).Error)
	require.NoError(t, e.db.Model(&Project{}).Where("id = ?", p.ID).Update("stream_id", nil).Error)

	var stored Project
	require.NoError(t, e.db.First(&stored, p.ID).Error)
	require.Nil(t, stored.StreamID)
	require.NoError(t, e.db.Save(&stored).Error)

	require.NotNil(t, stored.StreamID)
	assert.Equal(t, streams.Slug("project", p.ID), e.stream(t, &stored).Slug)

	var reloaded Project
	require.NoError(t, e.db.First(&reloaded, p.ID).Error)
	assert.Equal(t, stored.StreamID, reloaded.StreamID)
}

func TestDeleteRemovesStreamButKeepsActivities(t *testing.T) {
	e := setup(t)
	p1, p2 := e.project(t, "apollo"), e.project(t, "gemini")
	s1, s2 := e.stream(t, p1), e.stream(t, p2)
	alice := e.user(t, "alice")
	require.NoError(t, streams.Follow(e.ctx, e.db, s1, alice))

	shared := &streams.Activity{Subject: "launch", Verb: "scheduled", Title: "shared"}
	require.NoError(t, e.manager.Publish(e.ctx, e.db, shared, *s1, *s2))

	require.NoError(t, e.db.Delete(p1).Error)
	assert.Nil(t, p1.StreamID)

	var n int64
	require.NoError(t, e.db.Model(&streams.Stream{}).Where("id = ?", s1.ID).Count(&n).Error)
	assert.Zero(t, n)
	require.NoError(t, e.db.Table("stream_followers").Where("stream_id = ?", s1.ID).Count(&n).Error)
	assert.Zero(t, n)

	require.NoError(t, e.db.Model(&streams.Activity{}).Where("id = ?", shared.ID).Count(&n).Error)
	assert.EqualValues(t, 1, n)
	activities, err := streams.Activities(e.ctx, e.db, s2, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, shared.ID, activities[0].ID)
}

func TestOfWithoutStream(t *testing.T) {
	e := setup(t)
	_, err := streams.Of(e.ctx, e.db, &Project{})
	assert.ErrorIs(t, err, streams.ErrNoStream)
}

func TestPublishReusesExternalID(t *testing.T) {
	e := setup(t)
	s := e.stream(t, e.project(t, "apollo"))
	ext := "github-abc"

	first := &streams.Activity{ExternalID: &ext, Subject: "github", Verb: "commit", Title: "init"}
	require.NoError(t, e.manager.Publish(e.ctx, e.db, first, *s))
	again := &streams.Activity{ExternalID: &ext, Subject: "github", Verb: "commit", Title: "init"}
	require.NoError(t, e.manager.Publish(e.ctx, e.db, again, *s))

	assert.Equal(t, first.ID, again.ID)
	activities, err := streams.Activities(e.ctx, e.db, s, 0)
	require.NoError(t, err)
	assert.Len(t, activities, 1)
}

func TestFanOutNotifiesFollowingSubscribersOnce(t *testing.T) {
	e := setup(t)
	s1, s2 := e.stream(t, e.project(t, "apollo")), e.stream(t, e.project(t, "gemini"))
	alice, bob, carol := e.user(t, "alice"), e.user(t, "bob"), e.user(t, "carol")

	require.NoError(t, streams.Follow(e.ctx, e.db, s1, alice))
	require.NoError(t, streams.Follow(e.ctx, e.db, s2, alice))
	require.NoError(t, streams.Follow(e.ctx, e.db, s1, carol))
	for _, u := range []*auth.User{alice, bob} {
		_, err := streams.Subscribe(e.ctx, e.db, u, "deal-won")
		require.NoError(t, err)
	}

	activity := &streams.Activity{Subject: "deal", Verb: "won", Title: "Deal won", Description: "big one"}
	require.NoError(t, e.manager.Publish(e.ctx, e.db, activity, *s1, *s2))

	got := e.notifications(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, "Deal won", got[0].Title)
	assert.Equal(t, "big one", got[0].Description)
	assert.True(t, activity.Created.Equal(got[0].Created))
	assert.Nil(t, got[0].ReadAt)

	// subscribed, not following
	assert.Empty(t, e.notifications(t, bob))
	// following, not subscribed
	assert.Empty(t, e.notifications(t, carol))

	// attaching again reuses the notification
	require.NoError(t, e.manager.Attach(e.ctx, e.db, activity, *s1))
	assert.Len(t, e.notifications(t, alice), 1)

	// removal never notifies
	require.NoError(t, e.manager.Detach(e.ctx, e.db, activity, *s2))
	assert.Len(t, e.notifications(t, alice), 1)
}

func TestFanOutWithoutSubscribers(t *testing.T) {
	e := setup(t)
	s := e.stream(t, e.project(t, "apollo"))
	alice := e.user(t, "alice")
	require.NoError(t, streams.Follow(e.ctx, e.db, s, alice))

	require.NoError(t, e.manager.Publish(e.ctx, e.db, &streams.Activity{Subject: "deal", Verb: "lost"}, *s))
	assert.Empty(t, e.notifications(t, alice))
}

func TestMembershipReceiverErrorRollsBackAttach(t *testing.T) {
	e := setup(t)
	s := e.stream(t, e.project(t, "apollo"))
	e.manager.Membership.Connect("fail", func(ctx context.Context, ev streams.MembershipEvent) error {
		return assert.AnError
	})

	activity := &streams.Activity{Subject: "deal", Verb: "won"}
	err := e.manager.Publish(e.ctx, e.db, activity, *s)
	require.ErrorIs(t, err, assert.AnError)

	var n int64
	require.NoError(t, e.db.Model(&streams.Activity{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestRecordChangesPostsOnOwnerStream(t *testing.T) {
	e := setup(t)
	p := e.project(t, "apollo")
	s := e.stream(t, p)
	alice := e.user(t, "alice")
	require.NoError(t, streams.Follow(e.ctx, e.db, s, alice))
	_, err := streams.Subscribe(e.ctx, e.db, alice, "project-changed")
	require.NoError(t, err)

	// creation is not a change
	activities, err := streams.Activities(e.ctx, e.db, s, 0)
	require.NoError(t, err)
	assert.Empty(t, activities)

	p.SetName("gemini")
	require.NoError(t, e.db.Save(p).Error)

	activities, err = streams.Activities(e.ctx, e.db, s, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	a := activities[0]
	assert.Equal(t, "project", a.Subject)
	assert.Equal(t, "changed", a.Verb)
	assert.Equal(t, `project "gemini" changed`, a.Title)
	assert.Equal(t, "Changed name", a.Description)
	assert.Equal(t, map[string]any{"old": "apollo", "new": "gemini"}, a.Context["name"])

	got := e.notifications(t, alice)
	require.Len(t, got, 1)
	assert.Equal(t, `project "gemini" changed`, got[0].Title)
}

func TestActivitiesNewestFirst(t *testing.T) {
	e := setup(t)
	s := e.stream(t, e.project(t, "apollo"))
	for _, title := range []string{"one", "two", "three"} {
		require.NoError(t, e.manager.Publish(e.ctx, e.db, &streams.Activity{Subject: "note", Verb: "added", Title: title}, *s))
	}

	activities, err := streams.Activities(e.ctx, e.db, s, 2)
	require.NoError(t, err)
	require.Len(t, activities, 2)
	assert.Equal(t, "three", activities[0].Title)
	assert.Equal(t, "two", activities[1].Title)
}

func TestSubscriptions(t *testing.T) {
	e := setup(t)
	alice := e.user(t, "alice")

	first, err := streams.Subscribe(e.ctx, e.db, alice, "deal-won")
	require.NoError(t, err)
	again, err := streams.Subscribe(e.ctx, e.db, alice, "deal-won")
	require.NoError(t, err)
	assert.Equal(t, first.ID, again.ID)
	assert.Equal(t, "deal-won", again.Signature.Slug)

	_, err = streams.Subscribe(e.ctx, e.db, alice, "")
	assert.Error(t, err)

	require.NoError(t, streams.Unsubscribe(e.ctx, e.db, alice, "deal-won"))
	var n int64
	require.NoError(t, e.db.Model(&streams.Subscription{}).Count(&n).Error)
	assert.Zero(t, n)
}

func TestFollowers(t *testing.T) {
	e := setup(t)
	s := e.stream(t, e.project(t, "apollo"))
	alice := e.user(t, "alice")

	require.NoError(t, streams.Follow(e.ctx, e.db, s, alice))
	require.NoError(t, streams.Follow(e.ctx, e.db, s, alice))
	ok, err := streams.IsFollower(e.ctx, e.db, s, alice)
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, streams.Unfollow(e.ctx, e.db, s, alice))
	ok, err = streams.IsFollower(e.ctx, e.db, s, alice)
	require.NoError(t, err)
	assert.False(t, ok)
}

func TestStreamOwner(t *testing.T) {
	e := setup(t)
	e.project(t, "gemini")
	p := e.project(t, "apollo")
	s := e.stream(t, p)

	owner, err := streams.Owner(e.ctx, e.db, s, &Project{})
	require.NoError(t, err)
	require.IsType(t, &Project{}, owner)
	assert.Equal(t, p.ID, owner.(*Project).ID)

	_, err = streams.Owner(e.ctx, e.db, &streams.Stream{ID: 999}, &Project{})
	assert.ErrorIs(t, err, streams.ErrNoOwner)
}

func TestMarkRead(t *testing.T) {
	e := setup(t)
	s := e.stream(t, e.project(t, "apollo"))
	alice, bob := e.user(t, "alice"), e.user(t, "bob")
	require.NoError(t, streams.Follow(e.ctx, e.db, s, alice))
	_, err := streams.Subscribe(e.ctx, e.db, alice, "deal-won")
	require.NoError(t, err)
	require.NoError(t, e.manager.Publish(e.ctx, e.db, &streams.Activity{Subject: "deal", Verb: "won", Title: "won"}, *s))

	got := e.notifications(t, alice)
	require.Len(t, got, 1)

	assert.ErrorIs(t, streams.MarkRead(e.ctx, e.db, bob, got[0].ID), gorm.ErrRecordNotFound)
	require.NoError(t, streams.MarkRead(e.ctx, e.db, alice, got[0].ID))

	unread, err := streams.Notifications(e.ctx, e.db, alice, true)
	require.NoError(t, err)
	assert.Empty(t, unread)
	all := e.notifications(t, alice)
	require.Len(t, all, 1)
	assert.NotNil(t, all[0].ReadAt)
}
