package domain

import "time"

// User 表示应用程序中的用户。
type User struct {
	ID          uint      `gorm:"primaryKey"`
	Username    string    `gorm:"type:varchar(191);uniqueIndex:idx_username;not null"`
	Password    string    `gorm:"type:text;not null"` // bcrypt 哈希
	DisplayName string    `gorm:"type:varchar(191)"`
	CreatedAt   time.Time `gorm:"autoCreateTime"`
	UpdatedAt   time.Time `gorm:"autoUpdateTime"`
}

// Name 返回用于展示的名字，没有显示名时退回用户名。
func (u *User) Name() string {
	if u.DisplayName != "" {
		return u.DisplayName
	}
	return u.Username
}
