package http

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"openarchive/internal/domain"
	"openarchive/internal/service"
)

// UserHandler expone los endpoints /auth.
type UserHandler struct {
	logger   *zap.Logger
	userServ *service.UserService
}

func NewUserHandler(logger *zap.Logger, userServ *service.UserService) *UserHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &UserHandler{logger: logger, userServ: userServ}
}

// Register maneja POST /auth/register.
func (h *UserHandler) Register(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		Password    string `json:"password" binding:"required"`
		FullName    string `json:"full_name" binding:"required"`
		Role        string `json:"role"`
		Institution string `json:"institution"`
		Department  string `json:"department"`
		Phone       string `json:"phone"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid register request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid_request", "email, password and full_name are required")
		return
	}

	res, err := h.userServ.Register(c.Request.Context(), service.RegisterInput{
		Email:       req.Email,
		Password:    req.Password,
		FullName:    req.FullName,
		Role:        req.Role,
		Institution: req.Institution,
		Department:  req.Department,
		Phone:       req.Phone,
	})
	if err != nil {
		respondServiceError(c, h.logger, "register", err)
		return
	}
	respondData(c, http.StatusCreated, res)
}

// Login maneja POST /auth/login.
func (h *UserHandler) Login(c *gin.Context) {
	var req struct {
		Email    string `json:"email" binding:"required"`
		Password string `json:"password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		h.logger.Warn("invalid login request", zap.Error(err))
		respondError(c, http.StatusBadRequest, "invalid_request", "email and password are required")
		return
	}

	res, err := h.userServ.Login(c.Request.Context(), req.Email, req.Password)
	if err != nil {
		respondServiceError(c, h.logger, "login", err)
		return
	}
	respondData(c, http.StatusOK, res)
}

// Refresh maneja POST /auth/refresh.
func (h *UserHandler) Refresh(c *gin.Context) {
	var req struct {
		RefreshToken string `json:"refresh_token" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "refresh_token is required")
		return
	}

	session, err := h.userServ.Refresh(c.Request.Context(), req.RefreshToken)
	if err != nil {
		respondServiceError(c, h.logger, "refresh", err)
		return
	}
	respondData(c, http.StatusOK, session)
}

// Logout maneja POST /auth/logout. El refresh token en el cuerpo es opcional.
func (h *UserHandler) Logout(c *gin.Context) {
	id, _ := GetIdentity(c)
	var req struct {
		RefreshToken string `json:"refresh_token"`
	}
	_ = c.ShouldBindJSON(&req)

	h.userServ.Logout(c.Request.Context(), id.UserID, req.RefreshToken)
	c.JSON(http.StatusOK, gin.H{})
}

// RequestPasswordReset maneja POST /auth/password/reset.
func (h *UserHandler) RequestPasswordReset(c *gin.Context) {
	var req struct {
		Email string `json:"email" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "email is required")
		return
	}
	if err := h.userServ.RequestPasswordReset(c.Request.Context(), req.Email); err != nil {
		respondServiceError(c, h.logger, "password reset request", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// ConfirmPasswordReset maneja POST /auth/password/confirm.
func (h *UserHandler) ConfirmPasswordReset(c *gin.Context) {
	var req struct {
		Email       string `json:"email" binding:"required"`
		Code        string `json:"code" binding:"required"`
		NewPassword string `json:"new_password" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "email, code and new_password are required")
		return
	}
	if err := h.userServ.ResetPassword(c.Request.Context(), req.Email, req.Code, req.NewPassword); err != nil {
		respondServiceError(c, h.logger, "password reset", err)
		return
	}
	c.JSON(http.StatusOK, gin.H{})
}

// GetProfile maneja GET /auth/profile.
func (h *UserHandler) GetProfile(c *gin.Context) {
	id, _ := GetIdentity(c)
	user, err := h.userServ.GetProfile(c.Request.Context(), id.UserID)
	if err != nil {
		respondServiceError(c, h.logger, "get profile", err)
		return
	}
	respondData(c, http.StatusOK, user)
}

// GetProfileByID maneja GET /auth/profile/:id; solo el propio usuario o un admin.
func (h *UserHandler) GetProfileByID(c *gin.Context) {
	id, _ := GetIdentity(c)
	target := c.Param("id")
	if target != id.UserID && id.Role != domain.RoleAdmin {
		respondError(c, http.StatusForbidden, "forbidden", "Insufficient permissions")
		return
	}
	user, err := h.userServ.GetProfile(c.Request.Context(), target)
	if err != nil {
		respondServiceError(c, h.logger, "get profile", err)
		return
	}
	respondData(c, http.StatusOK, user)
}

// UpdateProfile maneja PUT /auth/profile.
func (h *UserHandler) UpdateProfile(c *gin.Context) {
	id, _ := GetIdentity(c)
	var upd domain.ProfileUpdate
	if err := c.ShouldBindJSON(&upd); err != nil {
		respondError(c, http.StatusBadRequest, "invalid_request", "invalid profile payload")
		return
	}
	user, err := h.userServ.UpdateProfile(c.Request.Context(), id.UserID, upd)
	if err != nil {
		respondServiceError(c, h.logger, "update profile", err)
		return
	}
	respondData(c, http.StatusOK, user)
}
