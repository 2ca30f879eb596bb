package partners

import (
	"time"

	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/auth"
	"github.com/anthrotech-dev/partners/observable"
	"github.com/anthrotech-dev/partners/streams"
)

type Contact struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	Firstname string    `json:"firstname" gorm:"type:text;not null"`
	Lastname  string    `json:"lastname" gorm:"type:text;not null"`
	Nickname  string    `json:"nickname" gorm:"type:text"`
	SSN       string    `json:"ssn" gorm:"type:text" filter:"-"`
	Language  string    `json:"language" gorm:"type:varchar(5)"`
	Timezone  string    `json:"timezone" gorm:"type:varchar(20)"`
	Email     string    `json:"email" gorm:"type:text"`
	URL       string    `json:"url" gorm:"type:text"`
	UserID    *uint     `json:"user_id,omitempty" gorm:"index"`
	CreatedAt time.Time `json:"created_at"`

	observable.Tracker `gorm:"-"`
}

func (c *Contact) FullName() string {
	return c.Firstname + " " + c.Lastname
}

func (c *Contact) String() string {
	return c.FullName()
}

func (c *Contact) SetFirstname(v string) { observable.Set(c, "firstname", &c.Firstname, v) }
func (c *Contact) SetLastname(v string)  { observable.Set(c, "lastname", &c.Lastname, v) }
func (c *Contact) SetNickname(v string)  { observable.Set(c, "nickname", &c.Nickname, v) }
func (c *Contact) SetEmail(v string)     { observable.Set(c, "email", &c.Email, v) }
func (c *Contact) SetURL(v string)       { observable.Set(c, "url", &c.URL, v) }
func (c *Contact) SetLanguage(v string)  { observable.Set(c, "language", &c.Language, v) }
func (c *Contact) SetTimezone(v string)  { observable.Set(c, "timezone", &c.Timezone, v) }
func (c *Contact) SetUserID(v *uint)     { observable.SetPtr(c, "user_id", &c.UserID, v) }

// Lead statuses a partner moves through before becoming a customer.
const (
	LeadNew       = "new"
	LeadContacted = "contacted"
	LeadQualified = "qualified"
	LeadLost      = "lost"
	LeadConverted = "converted"
)

const DefaultCurrency = "EUR"

type Partner struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	Name        string     `json:"name" gorm:"type:text;not null;uniqueIndex"`
	IsManaged   bool       `json:"is_managed" gorm:"not null;default:false"`
	IsCustomer  bool       `json:"is_customer" gorm:"not null;default:false"`
	IsSupplier  bool       `json:"is_supplier" gorm:"not null;default:false"`
	LeadStatus  string     `json:"lead_status" gorm:"type:varchar(10)"`
	VATNumber   *string    `json:"vat_number,omitempty" gorm:"type:varchar(64);uniqueIndex"`
	Currency    string     `json:"currency" gorm:"type:varchar(3)"`
	Language    string     `json:"language" gorm:"type:varchar(5)"`
	Timezone    string     `json:"timezone" gorm:"type:varchar(20)"`
	URL         string     `json:"url" gorm:"type:text"`
	Email       string     `json:"email" gorm:"type:text"`
	Description string     `json:"description" gorm:"type:text"`
	AssigneeID  *uint      `json:"assignee_id,omitempty" gorm:"index"`
	Assignee    *auth.User `json:"assignee,omitempty"`
	CreatedAt   time.Time  `json:"created_at"`

	streams.Ref
	observable.Tracker `gorm:"-"`
}

func (p *Partner) BeforeCreate(tx *gorm.DB) error {
	if p.LeadStatus == "" {
		p.LeadStatus = LeadNew
	}
	if p.Currency == "" {
		p.Currency = DefaultCurrency
	}
	return nil
}

func (p *Partner) String() string {
	return p.Name
}

func (p *Partner) SetName(v string)        { observable.Set(p, "name", &p.Name, v) }
func (p *Partner) SetIsManaged(v bool)     { observable.Set(p, "is_managed", &p.IsManaged, v) }
func (p *Partner) SetIsCustomer(v bool)    { observable.Set(p, "is_customer", &p.IsCustomer, v) }
func (p *Partner) SetIsSupplier(v bool)    { observable.Set(p, "is_supplier", &p.IsSupplier, v) }
func (p *Partner) SetLeadStatus(v string)  { observable.Set(p, "lead_status", &p.LeadStatus, v) }
func (p *Partner) SetVATNumber(v *string)  { observable.SetPtr(p, "vat_number", &p.VATNumber, v) }
func (p *Partner) SetCurrency(v string)    { observable.Set(p, "currency", &p.Currency, v) }
func (p *Partner) SetLanguage(v string)    { observable.Set(p, "language", &p.Language, v) }
func (p *Partner) SetTimezone(v string)    { observable.Set(p, "timezone", &p.Timezone, v) }
func (p *Partner) SetURL(v string)         { observable.Set(p, "url", &p.URL, v) }
func (p *Partner) SetEmail(v string)       { observable.Set(p, "email", &p.Email, v) }
func (p *Partner) SetDescription(v string) { observable.Set(p, "description", &p.Description, v) }
func (p *Partner) SetAssigneeID(v *uint)   { observable.SetPtr(p, "assignee_id", &p.AssigneeID, v) }

// Job is the role a contact holds at a partner.
type Job struct {
	ID        uint      `json:"id" gorm:"primaryKey"`
	ContactID uint      `json:"contact_id" gorm:"not null;index"`
	Contact   *Contact  `json:"contact,omitempty"`
	PartnerID uint      `json:"partner_id" gorm:"not null;index"`
	Partner   *Partner  `json:"partner,omitempty"`
	Role      string    `json:"role" gorm:"type:varchar(30);not null"`
	Notes     string    `json:"notes" gorm:"type:text"`
	CreatedAt time.Time `json:"created_at"`
}

const DefaultRole = "employee"

func (j *Job) BeforeCreate(tx *gorm.DB) error {
	if j.Role == "" {
		j.Role = DefaultRole
	}
	return nil
}
