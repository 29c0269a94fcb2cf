package middleware

import (
	"errors"
	"net/http"
	"strings"

	"github.com/google/uuid"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/bloodnet/bloodnet/internal/platform/auth"
	"github.com/bloodnet/bloodnet/internal/platform/db"
)

const apiPrefix = "/api/v1/"

// AuditEntry records who changed which network record.
type AuditEntry struct {
	UserID         string
	UserRoles      []string
	OrganizationID string
	Tenant         string
	Resource       string
	ResourceID     string
	Action         string
	Method         string
	Path           string
	RemoteIP       string
	RequestID      string
	Status         int
}

// Audit logs every state-changing request under /api/v1. It must run after
// the auth and tenant middleware so the caller identity is in the context.
// Reads are not audited.
func Audit(logger zerolog.Logger) echo.MiddlewareFunc {
	return func(next echo.HandlerFunc) echo.HandlerFunc {
		return func(c echo.Context) error {
			req := c.Request()
			if !strings.HasPrefix(req.URL.Path, apiPrefix) || !isWrite(req.Method) {
				return next(c)
			}

			err := next(c)

			entry := buildAuditEntry(c, err)
			evt := logger.Info()
			if entry.Status >= http.StatusBadRequest {
				evt = logger.Warn()
			}
			evt.
				Str("type", "audit").
				Str("request_id", entry.RequestID).
				Str("user_id", entry.UserID).
				Strs("user_roles", entry.UserRoles).
				Str("organization_id", entry.OrganizationID).
				Str("tenant", entry.Tenant).
				Str("resource", entry.Resource).
				Str("resource_id", entry.ResourceID).
				Str("action", entry.Action).
				Str("method", entry.Method).
				Str("path", entry.Path).
				Str("remote_ip", entry.RemoteIP).
				Int("status", entry.Status).
				Msg("record_change")

			return err
		}
	}
}

func buildAuditEntry(c echo.Context, err error) AuditEntry {
	req := c.Request()
	ctx := req.Context()

	entry := AuditEntry{
		UserID:    auth.UserIDFromContext(ctx),
		UserRoles: auth.RolesFromContext(ctx),
		Tenant:    db.TenantFromContext(ctx),
		Method:    req.Method,
		Path:      req.URL.Path,
		RemoteIP:  c.RealIP(),
		Status:    responseStatus(c, err),
	}
	if org, ok := auth.OrganizationIDFromContext(ctx); ok {
		entry.OrganizationID = org.String()
	}
	entry.RequestID, _ = c.Get("request_id").(string)
	entry.Resource, entry.ResourceID, entry.Action = classify(req.Method, req.URL.Path)
	return entry
}

// responseStatus is the status the error handler will write for err.
func responseStatus(c echo.Context, err error) int {
	if err == nil {
		return c.Response().Status
	}
	var he *echo.HTTPError
	if errors.As(err, &he) {
		return he.Code
	}
	return http.StatusInternalServerError
}

func isWrite(method string) bool {
	switch method {
	case http.MethodPost, http.MethodPut, http.MethodPatch, http.MethodDelete:
		return true
	}
	return false
}

// classify splits /api/v1/<resource>/<id>/<sub> into the resource, its id
// and an action name.
//
//	POST   /api/v1/donations              -> donations, "", create
//	PUT    /api/v1/donations/<id>/stage   -> donations, <id>, stage
//	POST   /api/v1/requests/<id>/assign   -> requests, <id>, assign
//	DELETE /api/v1/donations/<id>         -> donations, <id>, delete
func classify(method, path string) (resource, id, action string) {
	segments := strings.Split(strings.Trim(strings.TrimPrefix(path, apiPrefix), "/"), "/")
	resource = segments[0]
	if resource == "" {
		resource = "unknown"
	}
	if len(segments) > 1 {
		if _, err := uuid.Parse(segments[1]); err == nil {
			id = segments[1]
		}
	}
	if len(segments) > 2 && segments[2] != "" {
		return resource, id, segments[2]
	}

	switch method {
	case http.MethodPost:
		action = "create"
	case http.MethodDelete:
		action = "delete"
	default:
		action = "update"
	}
	return resource, id, action
}
