package schema

import (
	"fmt"
	"time"
)

// Role levels. Anything at or above RoleAdmin can moderate reports and
// feedback and receives moderation fan-out messages.
const (
	RoleUser       = 1
	RoleCreator    = 2
	RoleAdmin      = 3
	RoleSuperAdmin = 4
)

type User struct {
	Id uint `gorm:"primaryKey"`

	Name     string `gorm:"unique;size:50;not null"`
	Email    string `gorm:"unique;size:254;not null"`
	Password []byte

	Role   int `gorm:"not null;default:1"`
	Avatar string

	CreatedAt time.Time
}

func (u *User) IsAdmin() bool {
	return u.Role >= RoleAdmin
}

type Patch struct {
	Id uint `gorm:"primaryKey"`

	// Short public identifier used in links, e.g. /patch/5c1a2b3d.
	UniqueId string `gorm:"size:8;uniqueIndex;not null"`

	Name   string `gorm:"size:300;not null"`
	Banner string

	View     int `gorm:"not null;default:0"`
	Download int `gorm:"not null;default:0"`

	UserId uint `gorm:"not null;index"`
	User   *User

	Tags      []PatchTag      `gorm:"constraint:OnDelete:CASCADE"`
	Companies []PatchCompany  `gorm:"constraint:OnDelete:CASCADE"`
	Resources []PatchResource `gorm:"constraint:OnDelete:CASCADE"`

	CreatedAt time.Time
	UpdatedAt time.Time
}

func (p *Patch) Link() string {
	return fmt.Sprintf("/patch/%v", p.UniqueId)
}

// Count tracks the live number of patch join rows referencing the tag.
// Tags are garbage collected once the count drops to zero.
type Tag struct {
	Id    uint   `gorm:"primaryKey"`
	Name  string `gorm:"size:107;uniqueIndex;not null"`
	Count int    `gorm:"not null;default:0"`
}

type PatchTag struct {
	PatchId uint `gorm:"primaryKey"`
	TagId   uint `gorm:"primaryKey"`

	Tag *Tag
}

type Company struct {
	Id    uint   `gorm:"primaryKey"`
	Name  string `gorm:"size:107;uniqueIndex;not null"`
	Count int    `gorm:"not null;default:0"`
}

type PatchCompany struct {
	PatchId   uint `gorm:"primaryKey"`
	CompanyId uint `gorm:"primaryKey"`

	Company *Company
}

// Storage location discriminators for patch resources. Only StorageS3
// resources have backing objects that must be removed when the parent
// patch is deleted; other resources are plain links.
const (
	StorageS3   = "s3"
	StorageUser = "user"
)

type PatchResource struct {
	Id uint `gorm:"primaryKey"`

	PatchId uint `gorm:"not null;index"`

	Storage string `gorm:"size:107;not null"`
	Name    string `gorm:"size:300;not null"`
	Link    string `gorm:"size:1007;not null"`
	Hash    string `gorm:"size:107;not null"`
	Size    int64

	CreatedAt time.Time
}

const (
	MessageFavorite = "favorite"
	MessageReport   = "report"
	MessageFeedback = "feedback"
	MessageLike     = "like"
	MessageMention  = "mention"
	MessageComment  = "comment"
	MessageSystem   = "system"
)

var messageTypes = map[string]bool{
	MessageFavorite: true, MessageReport: true, MessageFeedback: true,
	MessageLike: true, MessageMention: true, MessageComment: true,
	MessageSystem: true,
}

func CheckValidMessageType(t string) error {
	if !messageTypes[t] {
		return fmt.Errorf("invalid message type '%v'", t)
	}
	return nil
}

// Message statuses. For report/feedback messages MessageRead doubles as
// "handled": resolution is guarded on the status being MessageUnread.
const (
	MessageUnread   = 0
	MessageRead     = 1
	MessageApproved = 2
	MessageDeclined = 3
)

type Message struct {
	Id uint `gorm:"primaryKey"`

	Type    string `gorm:"size:50;not null;index"`
	Content string `gorm:"not null"`

	SenderId *uint `gorm:"index"`
	Sender   *User `gorm:"foreignKey:SenderId"`

	RecipientId *uint `gorm:"index"`
	Recipient   *User `gorm:"foreignKey:RecipientId"`

	Status int `gorm:"not null;default:0"`

	Link string `gorm:"size:1007"`

	CreatedAt time.Time
}

type Topic struct {
	Id uint `gorm:"primaryKey"`

	Title   string `gorm:"size:300;not null"`
	Content string

	UserId uint `gorm:"not null;index"`
	User   *User

	CreatedAt time.Time
}

type Comment struct {
	Id uint `gorm:"primaryKey"`

	TopicId uint `gorm:"not null;index"`
	Content string

	UserId uint `gorm:"not null;index"`
	User   *User

	CreatedAt time.Time
}

// AllModels is the migration list shared by AutoMigrate callers and the
// migration command.
func AllModels() []interface{} {
	return []interface{}{
		&User{}, &Patch{}, &Tag{}, &PatchTag{}, &Company{}, &PatchCompany{},
		&PatchResource{}, &Message{}, &Topic{}, &Comment{},
	}
}
