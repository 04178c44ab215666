package handlers

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/charlesng35/authguard/internal/services"
	"github.com/charlesng35/authguard/pkg/errors"
	"github.com/charlesng35/authguard/pkg/response"
)

const maxAuditPageSize = 200

// AuditHandler exposes the caller's own security history.
type AuditHandler struct {
	svc *services.AuditService
}

func NewAuditHandler(svc *services.AuditService) *AuditHandler {
	return &AuditHandler{svc: svc}
}

// GET /api/audit
func (h *AuditHandler) List(c *gin.Context) {
	claims := currentClaims(c)
	if claims == nil {
		response.Error(c, errors.ErrUnauthorized)
		return
	}

	page, per := pagination(c, 50, maxAuditPageSize)

	filters := services.AuditFilters{
		Action:  strings.TrimSpace(c.Query("action")),
		ActorID: claims.UserID,
		Since:   timeQuery(c, "since"),
		Until:   timeQuery(c, "until"),
	}

	logs, total, err := h.svc.List(requestContext(c), services.AuditListOptions{Page: page, PageSize: per, Filters: filters})
	if err != nil {
		response.Error(c, errors.ErrInternalServer)
		return
	}

	response.SuccessWithMeta(c, http.StatusOK, logs, &response.Meta{Page: page, PerPage: per, Total: int(total)})
}
