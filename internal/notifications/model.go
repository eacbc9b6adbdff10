package notifications

import (
	"errors"
	"time"
)

// FormattedTimeLayout renders postedAt for display.
const FormattedTimeLayout = "2006-01-02 15:04:05"

// ErrMissingOwner indicates a record without an owning user; anonymous
// notifications are never stored.
var ErrMissingOwner = errors.New("notifications: owner user id required")

// Record is a captured device notification. Records are append-only and only
// removed through ClearForUser.
type Record struct {
	RecordID        string `gorm:"column:record_id;primaryKey;size:64;not null" json:"id"`
	SourceApp       string `gorm:"column:package_name;size:190;not null" json:"packageName"`
	AppDisplayName  string `gorm:"column:app_name;size:190;not null;default:''" json:"appName"`
	Title           string `gorm:"column:title;type:text;not null" json:"title"`
	Body            string `gorm:"column:content;type:text;not null" json:"content"`
	PostedAtMillis  int64  `gorm:"column:post_time_ms;not null;index:idx_notifications_post_time" json:"postTime"`
	FormattedTime   string `gorm:"column:formatted_time;size:32;not null" json:"formattedTime"`
	OwnerUserID     string `gorm:"column:user_id;size:190;not null;index:idx_notifications_user" json:"userId"`
	ExtractedSender string `gorm:"column:sender_info;type:text;not null;default:''" json:"senderInfo"`
}

// TableName provides the explicit table binding for GORM.
func (Record) TableName() string {
	return "notifications"
}

// NewRecordInput is what the capture listener knows about a notification.
type NewRecordInput struct {
	SourceApp       string
	AppDisplayName  string
	Title           string
	Body            string
	PostedAt        time.Time
	OwnerUserID     string
	ExtractedSender string
}
