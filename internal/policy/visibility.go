// Package policy 决定内容对某个角色是否可见，以及是否需要隐藏作者身份。
// 脱敏只作用于展示视图，存储中的行始终保留真实作者。
package policy

import (
	"classroom-qa/internal/domain"
	"classroom-qa/internal/dto"
)

// AllowedVisibilities 返回该角色可见的可见性集合。
func AllowedVisibilities(role domain.Role) []domain.Visibility {
	if role.IsInstructor() {
		return []domain.Visibility{domain.VisibilityPublic, domain.VisibilityInstructorOnly}
	}
	return []domain.Visibility{domain.VisibilityPublic}
}

// CanSee 判断该角色能否看到给定可见性的内容。
func CanSee(role domain.Role, v domain.Visibility) bool {
	for _, allowed := range AllowedVisibilities(role) {
		if allowed == v {
			return true
		}
	}
	return false
}

// CanRevealAnonymous 只有 TA 和教授能看到匿名内容的真实作者。
func CanRevealAnonymous(role domain.Role) bool {
	return role.IsInstructor()
}

// QuestionView 为指定角色构建问题视图。
func QuestionView(q *domain.Question, viewer domain.Role) dto.QuestionView {
	view := dto.QuestionView{
		ID:          q.ID,
		SessionID:   q.SessionID,
		SlideID:     q.SlideID,
		Content:     q.Content,
		Visibility:  q.Visibility,
		Status:      q.Status,
		UpvoteCount: q.UpvoteCount,
		IsAnonymous: q.IsAnonymous,
		CreatedAt:   q.CreatedAt,
	}
	if !q.IsAnonymous || CanRevealAnonymous(viewer) {
		authorID := q.AuthorID
		view.AuthorID = &authorID
	}
	return view
}

// AnswerView 为指定角色构建回答视图；authorName 可以为空。
func AnswerView(a *domain.Answer, authorName string, viewer domain.Role) dto.AnswerView {
	view := dto.AnswerView{
		ID:          a.ID,
		QuestionID:  a.QuestionID,
		Content:     a.Content,
		IsAccepted:  a.IsAccepted,
		IsAnonymous: a.IsAnonymous,
		CreatedAt:   a.CreatedAt,
	}
	if !a.IsAnonymous || CanRevealAnonymous(viewer) {
		authorID := a.AuthorID
		view.AuthorID = &authorID
		if authorName != "" {
			name := authorName
			view.AuthorName = &name
		}
	}
	return view
}
