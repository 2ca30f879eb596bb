package partners_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners"
	"github.com/anthrotech-dev/partners/internal/dbtest"
	"github.com/anthrotech-dev/partners/streams"
)

func setup(t *testing.T) (*gorm.DB, *partners.Store) {
	t.Helper()
	db := dbtest.Open(t)
	_, err := partners.Install(db, zaptest.NewLogger(t))
	require.NoError(t, err)
	require.NoError(t, partners.Migrate(context.Background(), db))
	return db, partners.NewStore(db)
}

func TestCreatePartnerDefaults(t *testing.T) {
	db, store := setup(t)
	ctx := context.Background()

	p := &partners.Partner{Name: "Acme"}
	require.NoError(t, store.CreatePartner(ctx, p))
	assert.Equal(t, partners.LeadNew, p.LeadStatus)
	assert.Equal(t, partners.DefaultCurrency, p.Currency)

	s, err := streams.Of(ctx, db, p)
	require.NoError(t, err)
	assert.Equal(t, streams.Slug("partner", p.ID), s.Slug)

	dup := &partners.Partner{Name: "Acme"}
	assert.ErrorIs(t, store.CreatePartner(ctx, dup), gorm.ErrDuplicatedKey)
}

func TestGetPartnerNotFound(t *testing.T) {
	_, store := setup(t)
	_, err := store.GetPartner(context.Background(), 42)
	assert.ErrorIs(t, err, partners.ErrNotFound)
	_, err = store.PartnerByName(context.Background(), "nobody")
	assert.ErrorIs(t, err, partners.ErrNotFound)
}

func TestSavePartnerRecordsChanges(t *testing.T) {
	db, store := setup(t)
	ctx := context.Background()
	require.NoError(t, store.CreatePartner(ctx, &partners.Partner{Name: "Acme"}))

	p, err := store.PartnerByName(ctx, "Acme")
	require.NoError(t, err)
	p.SetLeadStatus(partners.LeadQualified)
	p.SetIsCustomer(true)
	require.NoError(t, store.SavePartner(ctx, p))

	s, err := streams.Of(ctx, db, p)
	require.NoError(t, err)
	activities, err := streams.Activities(ctx, db, s, 0)
	require.NoError(t, err)
	require.Len(t, activities, 1)
	assert.Equal(t, "partner-changed", activities[0].Signature())
	assert.Equal(t, `partner "Acme" changed`, activities[0].Title)
	assert.Equal(t, "Changed is_customer, lead_status", activities[0].Description)
}

func TestListPartnersFilter(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()
	for _, name := range []string{"Acme Corp", "Globex", "Corp United", "Initech"} {
		require.NoError(t, store.CreatePartner(ctx, &partners.Partner{Name: name}))
	}

	names := func(list []partners.Partner) []string {
		out := make([]string, len(list))
		for i, p := range list {
			out[i] = p.Name
		}
		return out
	}

	list, err := store.ListPartners(ctx, partners.Filter{Values: map[string]string{"name": "Corp"}})
	require.NoError(t, err)
	assert.Equal(t, []string{"Acme Corp", "Corp United"}, names(list))

	list, err = store.ListPartners(ctx, partners.Filter{Values: map[string]string{"name": "Corp"}, OrderBy: "-name"})
	require.NoError(t, err)
	assert.Equal(t, []string{"Corp United", "Acme Corp"}, names(list))

	// infix matches are not prefix or suffix matches
	list, err = store.ListPartners(ctx, partners.Filter{Values: map[string]string{"name": "lob"}})
	require.NoError(t, err)
	assert.Empty(t, list)

	// unknown and non-text columns are ignored, so is an unknown order
	list, err = store.ListPartners(ctx, partners.Filter{
		Values:  map[string]string{"bogus": "x", "is_customer": "true"},
		OrderBy: "bogus",
	})
	require.NoError(t, err)
	assert.Len(t, list, 4)

	list, err = store.ListPartners(ctx, partners.Filter{OrderBy: "name", Limit: 2, Offset: 1})
	require.NoError(t, err)
	assert.Equal(t, []string{"Corp United", "Globex"}, names(list))
}

func TestJobs(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()
	p := &partners.Partner{Name: "Acme"}
	require.NoError(t, store.CreatePartner(ctx, p))
	c := &partners.Contact{Firstname: "Ada", Lastname: "Lovelace"}
	require.NoError(t, store.CreateContact(ctx, c))

	job := &partners.Job{ContactID: c.ID, PartnerID: p.ID}
	require.NoError(t, store.AddJob(ctx, job))
	assert.Equal(t, partners.DefaultRole, job.Role)

	jobs, err := store.Jobs(ctx, p.ID)
	require.NoError(t, err)
	require.Len(t, jobs, 1)
	require.NotNil(t, jobs[0].Contact)
	assert.Equal(t, "Ada Lovelace", jobs[0].Contact.FullName())

	assert.ErrorIs(t, store.RemoveJob(ctx, p.ID+1, job.ID), partners.ErrNotFound)
	require.NoError(t, store.RemoveJob(ctx, p.ID, job.ID))
	assert.ErrorIs(t, store.RemoveJob(ctx, p.ID, job.ID), partners.ErrNotFound)
}

func TestDeletePartner(t *testing.T) {
	db, store := setup(t)
	ctx := context.Background()
	p := &partners.Partner{Name: "Acme"}
	require.NoError(t, store.CreatePartner(ctx, p))
	c := &partners.Contact{Firstname: "Ada", Lastname: "Lovelace"}
	require.NoError(t, store.CreateContact(ctx, c))
	require.NoError(t, store.AddJob(ctx, &partners.Job{ContactID: c.ID, PartnerID: p.ID}))

	require.NoError(t, store.DeletePartner(ctx, p.ID))

	_, err := store.GetPartner(ctx, p.ID)
	assert.ErrorIs(t, err, partners.ErrNotFound)
	jobs, err := store.Jobs(ctx, p.ID)
	require.NoError(t, err)
	assert.Empty(t, jobs)

	var n int64
	require.NoError(t, db.Model(&streams.Stream{}).Where("id = ?", *p.StreamID).Count(&n).Error)
	assert.Zero(t, n)

	// contacts outlive the partner
	_, err = store.GetContact(ctx, c.ID)
	assert.NoError(t, err)

	assert.ErrorIs(t, store.DeletePartner(ctx, p.ID), partners.ErrNotFound)
}

func TestContacts(t *testing.T) {
	_, store := setup(t)
	ctx := context.Background()
	c := &partners.Contact{Firstname: "Ada", Lastname: "Lovelace"}
	require.NoError(t, store.CreateContact(ctx, c))

	c.SetEmail("ada@example.com")
	require.NoError(t, store.SaveContact(ctx, c))

	list, err := store.ListContacts(ctx, partners.Filter{Values: map[string]string{"email": "example.com"}})
	require.NoError(t, err)
	require.Len(t, list, 1)
	assert.Equal(t, "Ada Lovelace", list[0].String())

	require.NoError(t, store.DeleteContact(ctx, c.ID))
	_, err = store.GetContact(ctx, c.ID)
	assert.ErrorIs(t, err, partners.ErrNotFound)
}
