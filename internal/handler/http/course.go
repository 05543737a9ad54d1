package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"

	"classroom-qa/internal/domain"
	"classroom-qa/internal/service"
)

// CourseHandler 封装了课程和选课相关的 HTTP 处理逻辑
type CourseHandler struct {
	courseService *service.CourseService
}

// NewCourseHandler 创建 CourseHandler 实例
func NewCourseHandler(courseService *service.CourseService) *CourseHandler {
	if courseService == nil {
		panic("CourseService cannot be nil for CourseHandler")
	}
	return &CourseHandler{courseService: courseService}
}

// CourseResponse 是课程的响应结构；JoinCode 只返回给教授
type CourseResponse struct {
	ID       uint        `json:"id"`
	Name     string      `json:"name"`
	JoinCode string      `json:"joinCode,omitempty"`
	Role     domain.Role `json:"role,omitempty"`
}

type CreateCourseRequest struct {
	Name string `json:"name" binding:"required"`
}

// CreateCourse 处理创建课程的请求，创建者成为 PROFESSOR
func (h *CourseHandler) CreateCourse(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req CreateCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: name is required")
		return
	}

	course, err := h.courseService.CreateCourse(c.Request.Context(), userID, req.Name)
	if err != nil {
		HandleServiceError(c, err, "Failed to create course")
		return
	}
	SuccessResponse(c, http.StatusCreated, CourseResponse{
		ID:       course.ID,
		Name:     course.Name,
		JoinCode: course.JoinCode,
		Role:     domain.RoleProfessor,
	})
}

// LookupCourse 根据加入码查看课程，不登记选课
func (h *CourseHandler) LookupCourse(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	course, err := h.courseService.LookupByCode(c.Request.Context(), userID, c.Query("code"))
	if err != nil {
		HandleServiceError(c, err, "Failed to look up course")
		return
	}
	SuccessResponse(c, http.StatusOK, CourseResponse{ID: course.ID, Name: course.Name})
}

type JoinCourseRequest struct {
	JoinCode string `json:"joinCode" binding:"required"`
}

// JoinCourse 处理用户通过加入码加入课程的请求
func (h *CourseHandler) JoinCourse(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	var req JoinCourseRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: joinCode is required")
		return
	}

	course, enrollment, err := h.courseService.JoinByCode(c.Request.Context(), userID, req.JoinCode)
	if err != nil {
		logrus.WithField("user_id", userID).WithError(err).Warn("Handler.JoinCourse: Failed to join course")
		HandleServiceError(c, err, "Failed to join course")
		return
	}
	SuccessResponse(c, http.StatusOK, CourseResponse{ID: course.ID, Name: course.Name, Role: enrollment.Role})
}

// RegenerateJoinCode 为课程生成新的加入码
func (h *CourseHandler) RegenerateJoinCode(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	courseID, ok := uintParam(c, "courseId")
	if !ok {
		return
	}

	course, err := h.courseService.RegenerateCode(c.Request.Context(), userID, courseID)
	if err != nil {
		HandleServiceError(c, err, "Failed to regenerate join code")
		return
	}
	SuccessResponse(c, http.StatusOK, CourseResponse{ID: course.ID, Name: course.Name, JoinCode: course.JoinCode, Role: domain.RoleProfessor})
}

type SetMemberRoleRequest struct {
	Role domain.Role `json:"role" binding:"required"`
}

// SetMemberRole 设置成员的角色（例如指派 TA）
func (h *CourseHandler) SetMemberRole(c *gin.Context) {
	userID, ok := currentUser(c)
	if !ok {
		return
	}
	courseID, ok := uintParam(c, "courseId")
	if !ok {
		return
	}
	memberID, ok := uintParam(c, "userId")
	if !ok {
		return
	}
	var req SetMemberRoleRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		ErrorResponse(c, http.StatusBadRequest, "Invalid input: role is required")
		return
	}

	if err := h.courseService.SetMemberRole(c.Request.Context(), userID, courseID, memberID, req.Role); err != nil {
		HandleServiceError(c, err, "Failed to update member role")
		return
	}
	SuccessResponse(c, http.StatusOK, gin.H{"courseId": courseID, "userId": memberID, "role": req.Role})
}
