package server

import (
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"
	auditdomain "github.com/smallbiznis/auditfile/internal/audit/domain"
	"github.com/smallbiznis/auditfile/pkg/db/pagination"
)

type listAuditLogsQuery struct {
	PageToken    string `form:"page_token"`
	PageSize     int    `form:"page_size"`
	Action       string `form:"action"`
	ResourceType string `form:"resource_type"`
	ResourceID   string `form:"resource_id"`
	ActorID      string `form:"actor_id"`
	Since        string `form:"since"`
	Until        string `form:"until"`
}

func (s *Server) ListAuditLogs(c *gin.Context) {
	var query listAuditLogsQuery
	if err := c.ShouldBindQuery(&query); err != nil {
		AbortWithError(c, invalidRequestError())
		return
	}

	since, err := parseOptionalTime(query.Since)
	if err != nil {
		AbortWithError(c, newValidationError("since", "invalid_time", "since must be RFC3339 or YYYY-MM-DD"))
		return
	}
	until, err := parseOptionalTime(query.Until)
	if err != nil {
		AbortWithError(c, newValidationError("until", "invalid_time", "until must be RFC3339 or YYYY-MM-DD"))
		return
	}

	resp, err := s.auditSvc.List(c.Request.Context(), auditdomain.ListAuditLogRequest{
		Pagination: pagination.Pagination{
			PageToken: strings.TrimSpace(query.PageToken),
			PageSize:  query.PageSize,
		},
		Action:       strings.TrimSpace(query.Action),
		ResourceType: strings.TrimSpace(query.ResourceType),
		ResourceID:   strings.TrimSpace(query.ResourceID),
		ActorID:      strings.TrimSpace(query.ActorID),
		Since:        since,
		Until:        until,
	})
	if err != nil {
		AbortWithError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{"data": resp.AuditLogs, "page_info": resp.PageInfo})
}
