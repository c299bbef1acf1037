package server

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"

	"github.com/teemow/inboxpilot/internal/clientcache"
	"github.com/teemow/inboxpilot/internal/logging"
	"github.com/teemow/inboxpilot/internal/tools"
	"github.com/teemow/inboxpilot/internal/workflow"
)

// maxBodyBytes bounds request bodies.
const maxBodyBytes = 1 << 20

var validate = validator.New(validator.WithRequiredStructEnabled())

type messageRequest struct {
	Role       string          `json:"role" validate:"required,oneof=system user assistant tool"`
	Content    string          `json:"content"`
	ToolCalls  []tools.Request `json:"toolCalls,omitempty"`
	ToolCallID string          `json:"toolCallId,omitempty" validate:"required_if=Role tool"`
	Name       string          `json:"name,omitempty"`
}

type runRequest struct {
	ThreadID      string           `json:"threadId,omitempty" validate:"max=128"`
	Messages      []messageRequest `json:"messages" validate:"required,min=1,dive"`
	MaxIterations int              `json:"maxIterations,omitempty" validate:"gte=0"`
	MaxToolCalls  int              `json:"maxToolCalls,omitempty" validate:"gte=0"`
}

type decisionRequest struct {
	Type   string         `json:"type" validate:"required,oneof=approve reject edit human_input"`
	Args   map[string]any `json:"args,omitempty"`
	Input  string         `json:"input,omitempty"`
	Reason string         `json:"reason,omitempty"`
}

type resumeRequest struct {
	ToolCallID string          `json:"toolCallId" validate:"required"`
	Decision   decisionRequest `json:"decision"`
}

type toolResponse struct {
	Name        string         `json:"name"`
	Description string         `json:"description,omitempty"`
	Provider    string         `json:"provider,omitempty"`
	Category    tools.Category `json:"category"`
}

type toolsResponse struct {
	UserID      string         `json:"userId"`
	Providers   []string       `json:"providers"`
	Tools       []toolResponse `json:"tools"`
	LastUpdated time.Time      `json:"lastUpdated"`
}

type refreshResponse struct {
	Refreshed int    `json:"refreshed"`
	Error     string `json:"error,omitempty"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// api holds the HTTP handlers of the engine endpoints.
type api struct {
	engine    Engine
	logger    *slog.Logger
	heartbeat time.Duration
}

func (a *api) register(mux *http.ServeMux) {
	mux.HandleFunc("POST /v1/workflows", requireUser(a.runWorkflow))
	mux.HandleFunc("POST /v1/workflows/{threadID}/resume", requireUser(a.resumeWorkflow))
	mux.HandleFunc("GET /v1/users/{userID}/tools", requireSameUser(a.logger, a.listTools))
	mux.HandleFunc("DELETE /v1/users/{userID}/cache", requireSameUser(a.logger, a.invalidateCache))
	mux.HandleFunc("POST /v1/users/{userID}/cache/rebuild", requireSameUser(a.logger, a.rebuildCache))
	mux.HandleFunc("POST /v1/users/{userID}/tokens/refresh", requireSameUser(a.logger, a.refreshTokens))
	mux.HandleFunc("GET /v1/users/{userID}/connections", requireSameUser(a.logger, a.connections))
}

func (a *api) runWorkflow(w http.ResponseWriter, r *http.Request) {
	var req runRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	in := workflow.Input{
		UserID:        r.Header.Get(UserIDHeader),
		ThreadID:      req.ThreadID,
		Messages:      make([]workflow.Message, len(req.Messages)),
		MaxIterations: req.MaxIterations,
		MaxToolCalls:  req.MaxToolCalls,
	}
	for i, m := range req.Messages {
		in.Messages[i] = workflow.Message{
			Role:       workflow.Role(m.Role),
			Content:    m.Content,
			ToolCalls:  m.ToolCalls,
			ToolCallID: m.ToolCallID,
			Name:       m.Name,
		}
	}

	events, err := a.engine.RunWorkflow(r.Context(), in)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	streamEvents(w, r, events, a.heartbeat)
	a.engine.ScheduleRefresh(in.UserID)
}

func (a *api) resumeWorkflow(w http.ResponseWriter, r *http.Request) {
	var req resumeRequest
	if !decodeRequest(w, r, &req) {
		return
	}

	userID := r.Header.Get(UserIDHeader)
	events, err := a.engine.ResumeWorkflow(r.Context(), workflow.ResumeInput{
		UserID:     userID,
		ThreadID:   r.PathValue("threadID"),
		ToolCallID: req.ToolCallID,
		Decision: workflow.Decision{
			Type:   workflow.DecisionType(req.Decision.Type),
			Args:   req.Decision.Args,
			Input:  req.Decision.Input,
			Reason: req.Decision.Reason,
		},
	})
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	streamEvents(w, r, events, a.heartbeat)
	a.engine.ScheduleRefresh(userID)
}

func (a *api) listTools(w http.ResponseWriter, r *http.Request, userID string) {
	bundle, err := a.engine.GetOrCreateMCPData(r.Context(), userID)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toToolsResponse(bundle))
}

func (a *api) invalidateCache(w http.ResponseWriter, _ *http.Request, userID string) {
	a.engine.InvalidateUserCache(userID)
	w.WriteHeader(http.StatusNoContent)
}

func (a *api) rebuildCache(w http.ResponseWriter, r *http.Request, userID string) {
	bundle, err := a.engine.ForceRebuildUserCache(r.Context(), userID)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toToolsResponse(bundle))
}

// refreshTokens reports per-provider failures in the body; the request
// itself only fails when nothing could be attempted.
func (a *api) refreshTokens(w http.ResponseWriter, r *http.Request, userID string) {
	var resp refreshResponse
	if r.URL.Query().Get("all") == "true" {
		if err := a.engine.EnsureAllTokensFresh(r.Context(), userID); err != nil {
			resp.Error = err.Error()
		}
	} else {
		n, err := a.engine.RefreshExpiredTokensForUser(r.Context(), userID)
		resp.Refreshed = n
		if err != nil {
			resp.Error = err.Error()
		}
	}
	writeJSON(w, http.StatusOK, resp)
}

func (a *api) connections(w http.ResponseWriter, r *http.Request, userID string) {
	conns, err := a.engine.Connections(r.Context(), userID)
	if err != nil {
		a.writeEngineError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"connections": conns})
}

func toToolsResponse(b *clientcache.Bundle) toolsResponse {
	resp := toolsResponse{
		UserID:      b.UserID,
		Providers:   b.Client.Providers(),
		Tools:       make([]toolResponse, 0, len(b.Tools)),
		LastUpdated: b.LastUpdated,
	}
	if resp.Providers == nil {
		resp.Providers = []string{}
	}
	for _, d := range b.Descriptors() {
		resp.Tools = append(resp.Tools, toolResponse{
			Name:        d.Name,
			Description: d.Description,
			Provider:    d.Provider,
			Category:    d.Category,
		})
	}
	return resp
}

// statusFor maps engine errors to HTTP status codes.
func statusFor(err error) int {
	switch {
	case errors.Is(err, workflow.ErrThreadBusy):
		return http.StatusConflict
	case errors.Is(err, workflow.ErrInterruptNotFound):
		return http.StatusNotFound
	case errors.Is(err, workflow.ErrInvalidDecision):
		return http.StatusBadRequest
	case errors.Is(err, clientcache.ErrCacheClosed):
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

func (a *api) writeEngineError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		a.logger.Error("request failed", slog.String("route", r.Pattern), logging.Err(err))
	}
	writeError(w, status, err.Error())
}

// decodeRequest decodes and validates a JSON body. It writes the error
// response and reports false when the body is unusable.
func decodeRequest(w http.ResponseWriter, r *http.Request, v any) bool {
	dec := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		writeError(w, http.StatusBadRequest, fmt.Sprintf("invalid request body: %v", err))
		return false
	}
	if err := validate.Struct(v); err != nil {
		writeError(w, http.StatusBadRequest, validationMessage(err))
		return false
	}
	return true
}

func validationMessage(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, fmt.Sprintf("%s: failed %q", fe.Namespace(), fe.Tag()))
	}
	return "invalid request: " + strings.Join(msgs, "; ")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, errorResponse{Error: msg})
}
