package models

import "time"

// User 是身份存储中的用户记录，ID 为短数字字符串。
type User struct {
	ID                 string    `gorm:"primaryKey;size:16" json:"id"`
	DisplayName        string    `gorm:"size:64;not null" json:"displayName"`
	DisplayNameCustom  bool      `gorm:"not null;default:false" json:"displayNameCustom"`
	OAuthKey           string    `gorm:"uniqueIndex;size:255;not null" json:"-"`
	OAuthEmail         string    `gorm:"size:255" json:"oauthEmail,omitempty"`
	PasswordHash       string    `gorm:"size:255" json:"-"`
	PasswordLoginEmail string    `gorm:"index;size:255" json:"passwordLoginEmail,omitempty"`
	AccountHashDigest  string    `gorm:"index;size:64" json:"-"`
	CreatedAt          time.Time `json:"createdAt"`
	LastLoginAt        time.Time `json:"lastLoginAt"`
}

// HasPassword reports whether password login is enabled.
func (u User) HasPassword() bool { return u.PasswordHash != "" }

// HasAccountHash reports whether account-hash login is enabled.
func (u User) HasAccountHash() bool { return u.AccountHashDigest != "" }

// Room 的成员集合与待审批集合以 JSON 序列化存储，保持加入顺序。
type Room struct {
	ID             string    `gorm:"primaryKey;size:16" json:"id"`
	Name           string    `gorm:"size:128;not null" json:"name"`
	OwnerUserID    string    `gorm:"index;size:16" json:"ownerUserId,omitempty"`
	MemberUserIDs  []string  `gorm:"serializer:json" json:"memberUserIds"`
	PendingUserIDs []string  `gorm:"serializer:json" json:"pendingUserIds"`
	IsPrivate      bool      `gorm:"not null;default:false" json:"isPrivate"`
	IsDiscoverable bool      `gorm:"not null" json:"isDiscoverable"`
	CreatedAt      time.Time `json:"createdAt"`
	UpdatedAt      time.Time `gorm:"autoUpdateTime:false" json:"updatedAt"`
}

// Message 的 ID 是全局唯一的 10 位数字字符串。Seq 是进程间单调递增的追加序号，
// 用于在 CreatedAt 精度不足时恢复追加顺序。
type Message struct {
	ID        string     `gorm:"primaryKey;size:16" json:"id"`
	Seq       int64      `gorm:"not null;default:0" json:"-"`
	RoomID    string     `gorm:"index:idx_msg_room_id;size:16;not null" json:"roomId"`
	UserID    string     `gorm:"index;size:16;not null" json:"userId"`
	Text      string     `gorm:"type:text;not null" json:"text"`
	CreatedAt time.Time  `json:"createdAt"`
	EditedAt  *time.Time `json:"editedAt,omitempty"`
}

type Session struct {
	ID         string    `gorm:"primaryKey;size:128" json:"-"`
	UserID     string    `gorm:"index;size:16;not null" json:"userId"`
	CreatedAt  time.Time `json:"createdAt"`
	LastSeenAt time.Time `json:"lastSeenAt"`
}

// RetiredMessageID 记录已删除消息的 ID，重启后仍不会被重新分配。
type RetiredMessageID struct {
	ID string `gorm:"primaryKey;size:16"`
}
