package http

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openarchive/internal/domain"
	"openarchive/internal/service"
)

// AdminHandler agrupa la gestion de usuarios y la consulta de auditoria.
type AdminHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
	audit    *service.AuditService
}

func NewAdminHandler(logger *zap.Logger, userServ *service.UserService, audit *service.AuditService) *AdminHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdminHandler{logger: logger, userServ: userServ, audit: audit}
}

// ListUsers maneja GET /admin/users.
func (h *AdminHandler) ListUsers(c *gin.Context) {
	limit, offset := pagination(c)
	users, err := h.userServ.ListUsers(c.Request.Context(), limit, offset)
	if err != nil {
		respondServiceError(c, h.logger, "list users", err)
		return
	}
	if users == nil {
		users = []domain.User{}
	}
	respondData(c, http.StatusOK, users)
}

// CreateUser maneja POST /admin/users; permite crear cuentas de personal.
func (h *AdminHandler) CreateUser(c *gin.Context) {
	actor, _ := GetIdentity(c)
	var req struct {
		Email       string `json:"email" binding:"required"`
		Password    string `json:"password" binding:"required"`
		FullName    string `json:"full_name" binding:"required"`
		Role        string `json:"role" binding:"required"`
		Institution string `json:"institution"`
		Department  string `json:"department"`
		Phone       string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "email, password, full_name and role are required")
		return
	}
	user, err := h.userServ.CreateUser(c.Request.Context(), actor.UserID, service.CreateUserInput{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		Role:        req.Role,
		Institution: req.Institution,
		Department:  req.Department,
		Phone:       req.Phone,
	})
	if err != nil {
		respondServiceError(c, h.logger, "create user", err)
		return
	}
	respondData(c, http.StatusCreated, user)
}

// ChangeRole maneja PUT /admin/users/:id/role.
func (h *AdminHandler) ChangeRole(c *gin.Context) {
	actor, _ := GetIdentity(c)
	var req struct {
		Role string `json:"role" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "role is required")
		return
	}
	user, err := h.userServ.ChangeRole(
		c.Request.Context(),
		domain.User{ID: actor.UserID, Email: actor.Email, Role: actor.Role},
		c.Param("id"),
		req.Role,
	)
	if err != nil {
		respondServiceError(c, h.logger, "change role", err)
		return
	}
	respondData(c, http.StatusOK, user)
}

// AuditLogs maneja GET /inspector/audit-logs.
func (h *AdminHandler) AuditLogs(c *gin.Context) {
	limit, offset := pagination(c)
	events, err := h.audit.List(c.Request.Context(), domain.AuditFilter{
		Action:   c.Query("action"),
		ActorID:  c.Query("actor_id"),
		EntityID: c.Query("entity_id"),
		Limit:    limit,
		Offset:   offset,
	})
	if err != nil {
		respondServiceError(c, h.logger, "list audit logs", err)
		return
	}
	if events == nil {
		events = []domain.AuditEvent{}
	}
	respondData(c, http.StatusOK, events)
}

func pagination(c *gin.Context) (int, int) {
	limit, _ := strconv.Atoi(c.DefaultQuery("limit", "50"))
	offset, _ := strconv.Atoi(c.DefaultQuery("offset", "0"))
	return limit, offset
}
