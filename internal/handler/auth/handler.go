package auth

import (
	"context"
	stderrors "errors"

	"github.com/gin-gonic/gin"

	"github.com/jwalitptl/reschedule-agent/internal/model"
	"github.com/jwalitptl/reschedule-agent/pkg/errors"
	"github.com/jwalitptl/reschedule-agent/pkg/httputil"
)

// Authenticator issues operator tokens.
type Authenticator interface {
	Login(ctx context.Context, username, password string) (*model.TokenResponse, error)
}

type Handler struct {
	svc Authenticator
}

func NewHandler(svc Authenticator) *Handler {
	return &Handler{svc: svc}
}

func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	auth := r.Group("/auth")
	{
		auth.POST("/token", h.Token)
	}
}

func (h *Handler) Token(c *gin.Context) {
	var req model.LoginRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		httputil.RespondWithError(c, errors.BadRequest("invalid login request", err))
		return
	}

	token, err := h.svc.Login(c.Request.Context(), req.Username, req.Password)
	if stderrors.Is(err, model.ErrInvalidCredentials) {
		httputil.RespondWithError(c, errors.Unauthorized(err))
		return
	}
	if err != nil {
		httputil.RespondWithError(c, errors.Internal(err))
		return
	}

	httputil.RespondWithSuccess(c, token)
}
