package partners

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/schema"
)

var ErrNotFound = errors.New("partners: not found")

// Filter narrows a listing. Each value matches its column by prefix or by
// suffix; columns are ANDed. Unknown or non-text columns are ignored, as
// are columns tagged `filter:"-"` and an unknown OrderBy. OrderBy takes a
// column name, "-" prefixed for descending order. Scopes are applied as
// they are, e.g. a permission scope from auth.Backend.Granted.
type Filter struct {
	Values  map[string]string
	OrderBy string
	Limit   int
	Offset  int
	Scopes  []func(*gorm.DB) *gorm.DB
}

type Store struct {
	db *gorm.DB
}

func NewStore(db *gorm.DB) *Store {
	return &Store{db: db}
}

// CreatePartner inserts p. Its stream is created in the same transaction.
func (s *Store) CreatePartner(ctx context.Context, p *Partner) error {
	if err := s.db.WithContext(ctx).Create(p).Error; err != nil {
		return fmt.Errorf("create partner %q: %w", p.Name, err)
	}
	return nil
}

// SavePartner writes every column of p and notifies the changes made
// through its setters.
func (s *Store) SavePartner(ctx context.Context, p *Partner) error {
	if err := s.db.WithContext(ctx).Save(p).Error; err != nil {
		return fmt.Errorf("save partner %d: %w", p.ID, err)
	}
	return nil
}

func (s *Store) GetPartner(ctx context.Context, id uint) (*Partner, error) {
	return get[Partner](ctx, s.db, "id = ?", id)
}

func (s *Store) PartnerByName(ctx context.Context, name string) (*Partner, error) {
	return get[Partner](ctx, s.db, "name = ?", name)
}

// DeletePartner removes the partner, its jobs and its stream.
func (s *Store) DeletePartner(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := get[Partner](ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		if err := tx.Where("partner_id = ?", id).Delete(&Job{}).Error; err != nil {
			return fmt.Errorf("delete jobs of partner %d: %w", id, err)
		}
		if err := tx.Delete(p).Error; err != nil {
			return fmt.Errorf("delete partner %d: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListPartners(ctx context.Context, f Filter) ([]Partner, error) {
	return list[Partner](ctx, s.db, f)
}

func (s *Store) CreateContact(ctx context.Context, c *Contact) error {
	if err := s.db.WithContext(ctx).Create(c).Error; err != nil {
		return fmt.Errorf("create contact %q: %w", c.FullName(), err)
	}
	return nil
}

func (s *Store) SaveContact(ctx context.Context, c *Contact) error {
	if err := s.db.WithContext(ctx).Save(c).Error; err != nil {
		return fmt.Errorf("save contact %d: %w", c.ID, err)
	}
	return nil
}

func (s *Store) GetContact(ctx context.Context, id uint) (*Contact, error) {
	return get[Contact](ctx, s.db, "id = ?", id)
}

// DeleteContact removes the contact and its jobs.
func (s *Store) DeleteContact(ctx context.Context, id uint) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		c, err := get[Contact](ctx, tx, "id = ?", id)
		if err != nil {
			return err
		}
		if err := tx.Where("contact_id = ?", id).Delete(&Job{}).Error; err != nil {
			return fmt.Errorf("delete jobs of contact %d: %w", id, err)
		}
		if err := tx.Delete(c).Error; err != nil {
			return fmt.Errorf("delete contact %d: %w", id, err)
		}
		return nil
	})
}

func (s *Store) ListContacts(ctx context.Context, f Filter) ([]Contact, error) {
	return list[Contact](ctx, s.db, f)
}

func (s *Store) AddJob(ctx context.Context, j *Job) error {
	if err := s.db.WithContext(ctx).Omit(clause.Associations).Create(j).Error; err != nil {
		return fmt.Errorf("add job of contact %d at partner %d: %w", j.ContactID, j.PartnerID, err)
	}
	return nil
}

// Jobs lists the jobs held at a partner with their contacts.
func (s *Store) Jobs(ctx context.Context, partnerID uint) ([]Job, error) {
	var jobs []Job
	err := s.db.WithContext(ctx).Preload("Contact").Where("partner_id = ?", partnerID).Order("id").Find(&jobs).Error
	if err != nil {
		return nil, fmt.Errorf("list jobs of partner %d: %w", partnerID, err)
	}
	return jobs, nil
}

// RemoveJob deletes job id if it is held at partnerID.
func (s *Store) RemoveJob(ctx context.Context, partnerID, id uint) error {
	res := s.db.WithContext(ctx).Where("partner_id = ?", partnerID).Delete(&Job{}, id)
	if res.Error != nil {
		return fmt.Errorf("remove job %d: %w", id, res.Error)
	}
	if res.RowsAffected == 0 {
		return fmt.Errorf("job %d: %w", id, ErrNotFound)
	}
	return nil
}

func get[T any](ctx context.Context, db *gorm.DB, query string, args ...any) (*T, error) {
	var v T
	if err := db.WithContext(ctx).Where(query, args...).First(&v).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, fmt.Errorf("%T %v: %w", v, args, ErrNotFound)
		}
		return nil, fmt.Errorf("get %T: %w", v, err)
	}
	return &v, nil
}

func list[T any](ctx context.Context, db *gorm.DB, f Filter) ([]T, error) {
	var out []T
	q := db.WithContext(ctx).Model(new(T))

	stmt := &gorm.Statement{DB: db}
	if err := stmt.Parse(new(T)); err != nil {
		return nil, fmt.Errorf("list %T: %w", out, err)
	}
	for name, value := range f.Values {
		field := stmt.Schema.LookUpField(name)
		if field == nil || field.DBName == "" || field.DataType != schema.String || value == "" || field.Tag.Get("filter") == "-" {
			continue
		}
		col := clause.Column{Table: stmt.Schema.Table, Name: field.DBName}
		q = q.Where(clause.Or(
			clause.Like{Column: col, Value: value + "%"},
			clause.Like{Column: col, Value: "%" + value},
		))
	}

	if name, desc := strings.CutPrefix(f.OrderBy, "-"); name != "" {
		if field := stmt.Schema.LookUpField(name); field != nil && field.DBName != "" {
			q = q.Order(clause.OrderByColumn{Column: clause.Column{Table: stmt.Schema.Table, Name: field.DBName}, Desc: desc})
		}
	}
	q = q.Scopes(f.Scopes...)
	q = q.Order(clause.OrderByColumn{Column: clause.Column{Table: stmt.Schema.Table, Name: "id"}})
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}
	if f.Offset > 0 {
		q = q.Offset(f.Offset)
	}
	if err := q.Find(&out).Error; err != nil {
		return nil, fmt.Errorf("list %T: %w", out, err)
	}
	return out, nil
}
