package domain

import "time"

// Course 表示一门课程，学生通过 JoinCode 加入。
type Course struct {
	ID        uint      `gorm:"primaryKey"`
	Name      string    `gorm:"size:191;not null"`
	JoinCode  string    `gorm:"uniqueIndex;size:16;not null"`
	CreatedBy uint      `gorm:"index;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}

// Enrollment 记录用户在课程中的角色，(CourseID, UserID) 唯一。
type Enrollment struct {
	ID        uint      `gorm:"primaryKey"`
	CourseID  uint      `gorm:"uniqueIndex:idx_enrollment_course_user;not null"`
	UserID    uint      `gorm:"uniqueIndex:idx_enrollment_course_user;index;not null"`
	Role      Role      `gorm:"size:16;not null"`
	CreatedAt time.Time `gorm:"autoCreateTime"`
	UpdatedAt time.Time `gorm:"autoUpdateTime"`
}
