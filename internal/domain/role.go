package domain

// Role 是用户在某门课程中的角色，由选课关系决定。
type Role string

const (
	RoleStudent   Role = "STUDENT"
	RoleTA        Role = "TA"
	RoleProfessor Role = "PROFESSOR"
)

// Valid 判断角色取值是否合法。
func (r Role) Valid() bool {
	switch r {
	case RoleStudent, RoleTA, RoleProfessor:
		return true
	}
	return false
}

// IsInstructor 表示 TA 或教授。
func (r Role) IsInstructor() bool {
	return r == RoleTA || r == RoleProfessor
}

// Visibility 是问题的可见范围。
type Visibility string

const (
	VisibilityPublic         Visibility = "PUBLIC"
	VisibilityInstructorOnly Visibility = "INSTRUCTOR_ONLY"
)

// ParseVisibility 解析客户端传入的可见性；空字符串视为 PUBLIC。
func ParseVisibility(s string) (Visibility, bool) {
	switch Visibility(s) {
	case "", VisibilityPublic:
		return VisibilityPublic, true
	case VisibilityInstructorOnly:
		return VisibilityInstructorOnly, true
	}
	return "", false
}
