package streams

import (
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"

	"github.com/anthrotech-dev/partners/auth"
)

// Ref links an owner to its stream. Embedding it makes a model Streamable.
type Ref struct {
	StreamID *uint `json:"stream_id,omitempty" gorm:"index"`
}

func (r *Ref) StreamRef() *Ref {
	return r
}

// Streamable is implemented by models owning exactly one stream.
type Streamable interface {
	StreamRef() *Ref
}

// Stream is the append-only activity log of one owner.
type Stream struct {
	ID         uint        `json:"id" gorm:"primaryKey"`
	Slug       string      `json:"slug" gorm:"type:text;index"`
	Activities []Activity  `json:"-" gorm:"many2many:activity_streams"`
	Followers  []auth.User `json:"-" gorm:"many2many:stream_followers"`
}

// Activity is an immutable fact attached to one or more streams.
type Activity struct {
	ID          uint      `json:"id" gorm:"primaryKey"`
	ExternalID  *string   `json:"external_id,omitempty" gorm:"type:text;uniqueIndex"`
	Created     time.Time `json:"created" gorm:"index"`
	Subject     string    `json:"subject" gorm:"type:text"`
	Verb        string    `json:"verb" gorm:"type:text"`
	Title       string    `json:"title" gorm:"type:text"`
	Description string    `json:"description" gorm:"type:text"`
	// Context carries structured details, e.g. the changed fields.
	Context datatypes.JSONMap `json:"context,omitempty"`
	Streams []Stream          `json:"-" gorm:"many2many:activity_streams"`
}

func (a *Activity) BeforeCreate(tx *gorm.DB) error {
	if a.Created.IsZero() {
		a.Created = time.Now()
	}
	// postgres keeps microseconds; notification keys must survive a reload.
	a.Created = a.Created.UTC().Truncate(time.Microsecond)
	return nil
}

// Signature is the classification key matched against subscriptions:
// subject and verb, e.g. "partner-changed".
func (a *Activity) Signature() string {
	return a.Subject + "-" + a.Verb
}

func (a *Activity) String() string {
	if a.Title != "" {
		return a.Title
	}
	return a.Description
}

type Signature struct {
	ID    uint   `json:"id" gorm:"primaryKey"`
	Slug  string `json:"slug" gorm:"type:text;uniqueIndex;not null"`
	Title string `json:"title" gorm:"type:text"`
}

// Subscription is a user's interest in every activity with a signature,
// wherever it is posted.
type Subscription struct {
	ID          uint       `json:"id" gorm:"primaryKey"`
	SignatureID uint       `json:"signature_id" gorm:"not null;uniqueIndex:idx_subscription"`
	UserID      uint       `json:"user_id" gorm:"not null;uniqueIndex:idx_subscription"`
	Signature   *Signature `json:"signature,omitempty"`
}

type Notification struct {
	ID uint `json:"id" gorm:"primaryKey"`
	// Key identifies the (signature, user, created, description, title)
	// tuple; it backs get-or-create.
	Key         string     `json:"-" gorm:"type:text;uniqueIndex;not null"`
	SignatureID uint       `json:"signature_id" gorm:"not null"`
	UserID      uint       `json:"user_id" gorm:"not null;index"`
	Created     time.Time  `json:"created"`
	Title       string     `json:"title" gorm:"type:text"`
	Description string     `json:"description" gorm:"type:text"`
	ReadAt      *time.Time `json:"read_at,omitempty"`
}

var notificationNamespace = uuid.MustParse("6f0e3b57-5d1c-4c36-9a43-2b8f1f0d7c11")

func notificationKey(signatureID, userID uint, created time.Time, description, title string) string {
	name := strings.Join([]string{
		fmt.Sprint(signatureID),
		fmt.Sprint(userID),
		created.UTC().Truncate(time.Microsecond).Format(time.RFC3339Nano),
		description,
		title,
	}, "\x00")
	return uuid.NewSHA1(notificationNamespace, []byte(name)).String()
}
