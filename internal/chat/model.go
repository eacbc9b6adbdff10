package chat

import "sort"

// DefaultSenderName is stored when the author has no display name.
const DefaultSenderName = "Anonymous"

// Message is one immutable chat entry in a room.
type Message struct {
	MessageID    string `gorm:"column:message_id;primaryKey;size:64" json:"id"`
	SenderID     string `gorm:"column:sender_id;size:190;not null" json:"senderId"`
	SenderName   string `gorm:"column:sender_name;size:320;not null" json:"senderName"`
	Text         string `gorm:"column:text;type:text;not null" json:"text"`
	SentAtMillis int64  `gorm:"column:timestamp;not null" json:"timestamp"`
	RoomCode     string `gorm:"column:room_code;size:4;not null;index" json:"roomCode"`
	IsRead       bool   `gorm:"column:is_read;not null;default:false" json:"isRead"`
}

func (Message) TableName() string {
	return "chat_messages"
}

// Author identifies who sends a message.
type Author struct {
	UserID      string
	DisplayName string
}

// SortMessages orders messages ascending by send time, ties broken by id.
func SortMessages(messages []Message) {
	sort.SliceStable(messages, func(i, j int) bool {
		if messages[i].SentAtMillis != messages[j].SentAtMillis {
			return messages[i].SentAtMillis < messages[j].SentAtMillis
		}
		return messages[i].MessageID < messages[j].MessageID
	})
}
