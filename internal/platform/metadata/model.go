package metadata

import "time"

// Metadata 是存放全局计数器与标记的键值行。
type Metadata struct {
	ID uint `gorm:"primaryKey"`

	// Key 唯一，例如 "round_nonce"。
	Key string `gorm:"uniqueIndex;not null;type:varchar(255)"`

	Value string `gorm:"type:varchar(255)"`

	CreatedAt time.Time
	UpdatedAt time.Time
}
