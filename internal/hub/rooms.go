package hub

import (
	"fmt"

	"classroom-qa/internal/domain"
)

// RoomID 标识一个广播组。每个会话有一个通用房间和一个只有 TA/教授加入的讲师房间。
type RoomID string

// GeneralRoom 返回会话的通用房间，所有参与者都在其中。
func GeneralRoom(sessionID uint) RoomID {
	return RoomID(fmt.Sprintf("session:%d", sessionID))
}

// InstructorsRoom 返回会话的讲师房间。
func InstructorsRoom(sessionID uint) RoomID {
	return RoomID(fmt.Sprintf("session:%d:instructors", sessionID))
}

// RoomForVisibility 把可见性映射到目标房间：PUBLIC 发往通用房间，INSTRUCTOR_ONLY 只发往讲师房间。
func RoomForVisibility(v domain.Visibility, sessionID uint) (RoomID, error) {
	switch v {
	case domain.VisibilityPublic:
		return GeneralRoom(sessionID), nil
	case domain.VisibilityInstructorOnly:
		return InstructorsRoom(sessionID), nil
	}
	return "", fmt.Errorf("hub: no room for visibility %q", v)
}
