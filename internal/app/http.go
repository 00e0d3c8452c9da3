package app

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/board"
	"github.com/ConvertGroupsAS/pimcore-workflow-dashboard/internal/rbac"
)

type HTTPServer struct {
	service    *Service
	scheduler  *Scheduler
	corsOrigin string
}

// NewHTTPServer serves the board API. With a nil scheduler manual
// reconcile runs are not locked.
func NewHTTPServer(service *Service, scheduler *Scheduler, corsOrigin string) *HTTPServer {
	return &HTTPServer{service: service, scheduler: scheduler, corsOrigin: corsOrigin}
}

func (s *HTTPServer) Handler() http.Handler {
	return s.withMiddleware(http.HandlerFunc(s.handle))
}

func (s *HTTPServer) handle(w http.ResponseWriter, r *http.Request) {
	if r.Method == http.MethodOptions {
		writeJSON(w, http.StatusNoContent, map[string]any{})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/health" {
		writeJSON(w, http.StatusOK, map[string]any{"ok": true})
		return
	}

	if (r.Method == http.MethodGet || r.Method == http.MethodHead) && r.URL.Path == "/api/ready" {
		s.handleReady(w, r)
		return
	}

	actor, ok := s.requirePrincipal(w, r)
	if !ok {
		return
	}

	if r.Method == http.MethodGet && r.URL.Path == "/api/me" {
		writeJSON(w, http.StatusOK, map[string]any{
			"userId":    actor.UserID,
			"canAccess": s.service.CanAccess(actor),
			"canSeeAll": s.service.CanSeeAll(actor),
		})
		return
	}

	if r.Method == http.MethodPost && r.URL.Path == "/api/reconcile" {
		s.handleReconcile(w, r, actor)
		return
	}

	parts := splitPath(r.URL.Path)
	// /api/workflows/{workflowId}/entries[/{ctype}/{cid}[/assign]]
	if len(parts) >= 4 && parts[0] == "api" && parts[1] == "workflows" && parts[3] == "entries" {
		workflowID, err := strconv.ParseInt(parts[2], 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "workflow id must be numeric", nil)
			return
		}
		switch {
		case len(parts) == 4 && r.Method == http.MethodGet:
			s.handleListEntries(w, r, actor, workflowID)
			return
		case len(parts) == 6 && r.Method == http.MethodGet:
			contentID, err := strconv.ParseInt(parts[5], 10, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content id must be numeric", nil)
				return
			}
			s.handleInspectEntry(w, r, actor, board.Key{ContentID: contentID, ContentType: parts[4], WorkflowID: workflowID})
			return
		case len(parts) == 7 && parts[6] == "assign" && r.Method == http.MethodPost:
			contentID, err := strconv.ParseInt(parts[5], 10, 64)
			if err != nil {
				writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "content id must be numeric", nil)
				return
			}
			s.handleChangeAssign(w, r, actor, workflowID, parts[4], contentID)
			return
		}
	}

	writeError(w, http.StatusNotFound, "NOT_FOUND", "Route not found", nil)
}

func (s *HTTPServer) handleReady(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	status := "ready"
	statusCode := http.StatusOK
	checks := map[string]any{
		"database": map[string]any{"status": "ok"},
	}

	if err := s.service.Ping(ctx); err != nil {
		status = "not_ready"
		statusCode = http.StatusServiceUnavailable
		checks["database"] = map[string]any{
			"status": "error",
			"error":  err.Error(),
		}
	}

	writeJSON(w, statusCode, map[string]any{
		"ok":     status == "ready",
		"status": status,
		"checks": checks,
	})
}

func (s *HTTPServer) handleListEntries(w http.ResponseWriter, r *http.Request, actor rbac.Principal, workflowID int64) {
	query := r.URL.Query()
	userID := board.AllUsers
	if raw := strings.TrimSpace(query.Get("userId")); raw != "" && !strings.EqualFold(raw, "all") {
		parsed, err := strconv.ParseInt(raw, 10, 64)
		if err != nil {
			writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "userId must be numeric or \"all\"", nil)
			return
		}
		userID = parsed
	}
	offset, err := intParam(query.Get("offset"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "offset must be numeric", nil)
		return
	}
	limit, err := intParam(query.Get("limit"))
	if err != nil {
		writeError(w, http.StatusUnprocessableEntity, "VALIDATION_ERROR", "limit must be numeric", nil)
		return
	}

	page, err := s.service.ListEntries(r.Context(), actor, workflowID, userID, offset, limit)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	data := make([]map[string]any, 0, len(page.Data))
	for _, entry := range page.Data {
		data = append(data, entryJSON(entry))
	}
	writeJSON(w, http.StatusOK, map[string]any{
		"total":  page.Total,
		"offset": page.Offset,
		"limit":  page.Limit,
		"data":   data,
	})
}

func (s *HTTPServer) handleChangeAssign(w http.ResponseWriter, r *http.Request, actor rbac.Principal, workflowID int64, ctype string, contentID int64) {
	var body struct {
		AssignType string `json:"assignType"`
		AssignID   int64  `json:"assignId"`
	}
	if err := decodeBody(r, &body); err != nil {
		writeError(w, http.StatusBadRequest, "INVALID_BODY", err.Error(), nil)
		return
	}
	entry, err := s.service.ChangeAssign(r.Context(), actor, ChangeAssignInput{
		ContentID:   contentID,
		ContentType: ctype,
		WorkflowID:  workflowID,
		AssignType:  body.AssignType,
		AssignID:    body.AssignID,
	})
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, entryJSON(entry))
}

func (s *HTTPServer) handleInspectEntry(w http.ResponseWriter, r *http.Request, actor rbac.Principal, key board.Key) {
	detail, err := s.service.InspectEntry(r.Context(), actor, key)
	if err != nil {
		writeMappedError(w, err)
		return
	}
	payload := map[string]any{
		"entry":   entryJSON(detail.Entry),
		"source":  nil,
		"content": nil,
		"inSync":  detail.InSync,
	}
	if detail.Source != nil {
		payload["source"] = map[string]any{
			"state":  detail.Source.State,
			"status": detail.Source.Status,
		}
	}
	if detail.Content != nil {
		payload["content"] = map[string]any{
			"key":      detail.Content.DisplayKey,
			"fullPath": detail.Content.FullPath,
		}
	}
	writeJSON(w, http.StatusOK, payload)
}

func (s *HTTPServer) handleReconcile(w http.ResponseWriter, r *http.Request, actor rbac.Principal) {
	if !s.service.CanSeeAll(actor) {
		writeMappedError(w, errForbidden)
		return
	}
	var (
		stats board.ReconcileStats
		err   error
	)
	if s.scheduler != nil {
		var ran bool
		stats, ran, err = s.scheduler.RunOnce(r.Context())
		if err == nil && !ran {
			writeError(w, http.StatusConflict, "RECONCILE_RUNNING", "Another reconcile run is in progress", nil)
			return
		}
	} else {
		stats, err = s.service.Reconcile(r.Context())
	}
	if err != nil {
		writeMappedError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

func (s *HTTPServer) requirePrincipal(w http.ResponseWriter, r *http.Request) (rbac.Principal, bool) {
	token := bearerToken(r)
	if token == "" {
		writeError(w, http.StatusUnauthorized, "UNAUTHORIZED", "Unauthorized", nil)
		return rbac.Principal{}, false
	}
	actor, err := s.service.PrincipalFromToken(r.Context(), token)
	if err != nil {
		status, code, message, details := mapError(err)
		if status != http.StatusUnauthorized {
			status, code, message, details = http.StatusInternalServerError, "SERVER_ERROR", "Principal lookup failed", nil
		}
		writeError(w, status, code, message, details)
		return rbac.Principal{}, false
	}
	return actor, true
}

func (s *HTTPServer) withMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = randomRequestID()
		}
		ctx := withRequestID(r.Context(), requestID)
		r = r.WithContext(ctx)

		started := time.Now()
		writer := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		setCORSHeaders(writer.Header(), s.corsOrigin)
		writer.Header().Set("X-Request-ID", requestID)

		next.ServeHTTP(writer, r)

		s.service.logger.InfoContext(ctx, "request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", writer.status,
			"duration_ms", time.Since(started).Milliseconds(),
		)
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func randomRequestID() string {
	buf := make([]byte, 8)
	_, _ = rand.Read(buf)
	return hex.EncodeToString(buf)
}

func setCORSHeaders(header http.Header, corsOrigin string) {
	header.Set("Access-Control-Allow-Origin", corsOrigin)
	header.Set("Access-Control-Allow-Headers", "Content-Type, Authorization, X-Request-ID")
	header.Set("Access-Control-Allow-Methods", "GET,POST,OPTIONS")
	header.Set("Cache-Control", "no-store")
	header.Set("Content-Type", "application/json")
}

func entryJSON(entry board.Entry) map[string]any {
	return map[string]any{
		"contentId":   entry.ContentID,
		"contentType": entry.ContentType,
		"workflowId":  entry.WorkflowID,
		"assignType":  string(entry.AssignType),
		"assignId":    entry.AssignID,
		"state":       entry.State,
		"status":      entry.Status,
	}
}

func writeJSON(w http.ResponseWriter, status int, payload any) {
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(payload)
}

func writeError(w http.ResponseWriter, status int, code, message string, details any) {
	response := map[string]any{
		"code":  code,
		"error": message,
	}
	if details != nil {
		response["details"] = details
	}
	writeJSON(w, status, response)
}

func writeMappedError(w http.ResponseWriter, err error) {
	status, code, message, details := mapError(err)
	writeError(w, status, code, message, details)
}

func decodeBody(r *http.Request, target any) error {
	if r.Body == nil {
		return nil
	}
	defer r.Body.Close()
	decoder := json.NewDecoder(r.Body)
	if err := decoder.Decode(target); err != nil {
		if errors.Is(err, http.ErrBodyReadAfterClose) {
			return nil
		}
		return fmt.Errorf("invalid JSON body")
	}
	return nil
}

func bearerToken(r *http.Request) string {
	header := strings.TrimSpace(r.Header.Get("Authorization"))
	if !strings.HasPrefix(header, "Bearer ") {
		return ""
	}
	return strings.TrimSpace(strings.TrimPrefix(header, "Bearer "))
}

func splitPath(path string) []string {
	trimmed := strings.Trim(path, "/")
	if trimmed == "" {
		return nil
	}
	return strings.Split(trimmed, "/")
}

func intParam(raw string) (int, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return 0, nil
	}
	return strconv.Atoi(raw)
}
