package domain

import "time"

// Slide 是会话中上传的一份讲义，二进制内容按 StorageKey 存放在 blob 存储中。
type Slide struct {
	ID         uint      `gorm:"primaryKey"`
	SessionID  uint      `gorm:"index;not null"`
	FileName   string    `gorm:"size:255;not null"`
	StorageKey string    `gorm:"size:64;index;not null"`
	SizeBytes  int64     `gorm:"not null"`
	UploadedBy uint      `gorm:"not null"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}
