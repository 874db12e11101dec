package handlers

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	openapi_types "github.com/oapi-codegen/runtime/types"

	"github.com/circularops/api/internal/audit"
	"github.com/circularops/api/internal/auth"
	"github.com/circularops/api/internal/config"
	"github.com/circularops/api/internal/domain"
	"github.com/circularops/api/internal/httpx"
	"github.com/circularops/api/internal/importer"
	"github.com/circularops/api/internal/middleware"
	"github.com/circularops/api/internal/objectstore"
	"github.com/circularops/api/internal/store"
)

type Server struct {
	Config   config.Config
	Store    store.Store
	Audit    *audit.Logger
	Logger   *slog.Logger
	Importer *importer.Importer
	// Photos is nil when no bucket is configured.
	Photos objectstore.Store
	Now    func() time.Time
}

func NewServer(cfg config.Config, s store.Store, photos objectstore.Store, logger *slog.Logger) *Server {
	im := importer.New(s, logger, cfg.QuantityCeiling, cfg.ImportMaxRows)
	im.Resolver.Parallelism = cfg.ResolveParallelism
	return &Server{
		Config:   cfg,
		Store:    s,
		Audit:    audit.NewLogger(s),
		Logger:   logger,
		Importer: im,
		Photos:   photos,
		Now:      time.Now,
	}
}

func (s *Server) now() time.Time {
	if s.Now == nil {
		return time.Now().UTC()
	}
	return s.Now().UTC()
}

func (s *Server) GetHealth(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) PostAuthLogin(w http.ResponseWriter, r *http.Request) {
	var req LoginRequest
	if err := httpx.DecodeJSON(r, &req); err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_body", "Malformed JSON body", nil)
		return
	}

	operator, err := s.Store.OperatorByEmail(r.Context(), strings.TrimSpace(string(req.Email)))
	if err != nil && !errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to load operator", nil)
		return
	}
	if err != nil || !operator.IsActive {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		return
	}
	ok, err := auth.VerifyPassword(req.Password, operator.PasswordHash)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Password verification failed", nil)
		return
	}
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "invalid_credentials", "Invalid email or password", nil)
		return
	}

	if old, err := r.Cookie(s.Config.SessionCookieName); err == nil && old.Value != "" {
		_ = s.Store.RevokeSessionByTokenHash(r.Context(), auth.HashToken(old.Value))
	}

	session, token, err := auth.NewSession(operator.ID, s.Config.SessionTTL, s.now())
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to create session", nil)
		return
	}
	session, err = s.Store.CreateSession(r.Context(), session)
	if err != nil {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to save session", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    token,
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		Expires:  session.ExpiresAt,
	})

	operatorID := operator.ID
	s.audit(r, audit.Entry{
		OperatorID: &operatorID,
		Action:     audit.ActionLogin,
		EntityType: "session",
		EntityID:   &session.ID,
	})

	httpx.WriteJSON(w, http.StatusOK, AuthSessionResponse{
		Operator: Operator{
			Id:       operator.ID,
			Email:    openapi_types.Email(operator.Email),
			FullName: operator.FullName,
			Role:     operator.Role,
		},
		ExpiresAt: session.ExpiresAt.UTC(),
	})
}

func (s *Server) PostAuthLogout(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}

	if err := s.Store.RevokeSession(r.Context(), actor.SessionID); err != nil && !errors.Is(err, store.ErrNotFound) {
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to revoke session", nil)
		return
	}

	http.SetCookie(w, &http.Cookie{
		Name:     s.Config.SessionCookieName,
		Value:    "",
		Path:     "/",
		HttpOnly: true,
		SameSite: http.SameSiteLaxMode,
		Secure:   s.Config.SecureCookies,
		MaxAge:   -1,
	})

	s.audit(r, audit.Entry{
		OperatorID: &actor.OperatorID,
		Action:     audit.ActionLogout,
		EntityType: "session",
		EntityID:   &actor.SessionID,
	})

	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) GetAuthMe(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, AuthSessionResponse{
		Operator: Operator{
			Id:       actor.OperatorID,
			Email:    openapi_types.Email(actor.Email),
			FullName: actor.FullName,
			Role:     actor.Role,
		},
		ExpiresAt: actor.ExpiresAt.UTC(),
	})
}

func (s *Server) GetAuthCsrf(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"csrfToken": actor.CSRFToken})
}

func requireActor(w http.ResponseWriter, r *http.Request) (middleware.Actor, bool) {
	actor, ok := middleware.ActorFromContext(r.Context())
	if !ok {
		httpx.WriteError(w, r, http.StatusUnauthorized, "unauthorized", "Authentication required", nil)
		return middleware.Actor{}, false
	}
	return actor, true
}

func requestID(r *http.Request) string {
	return middleware.RequestIDFromContext(r.Context())
}

func pathUUID(w http.ResponseWriter, r *http.Request, name string) (uuid.UUID, bool) {
	id, err := uuid.Parse(chi.URLParam(r, name))
	if err != nil {
		httpx.WriteError(w, r, http.StatusBadRequest, "invalid_id", name+" must be a UUID", nil)
		return uuid.Nil, false
	}
	return id, true
}

// writeStoreError maps store sentinels onto HTTP statuses.
func writeStoreError(w http.ResponseWriter, r *http.Request, err error, entity string) {
	label := strings.ReplaceAll(entity, "_", " ")
	switch {
	case errors.Is(err, store.ErrNotFound):
		httpx.WriteError(w, r, http.StatusNotFound, entity+"_not_found", strings.ToUpper(label[:1])+label[1:]+" was not found", nil)
	case errors.Is(err, store.ErrConflict):
		httpx.Conflict(w, r, "conflict", "The "+label+" was changed by another request")
	case errors.Is(err, context.Canceled):
		httpx.WriteError(w, r, http.StatusRequestTimeout, "request_canceled", "Request was canceled", nil)
	default:
		httpx.WriteError(w, r, http.StatusInternalServerError, "internal_error", "Failed to access "+label, nil)
	}
}

// audit records an entry on behalf of the request. Failures are logged, never
// surfaced to the caller.
func (s *Server) audit(r *http.Request, entry audit.Entry) {
	entry.RequestID = requestID(r)
	if entry.OperatorID == nil {
		if actor, ok := middleware.ActorFromContext(r.Context()); ok {
			id := actor.OperatorID
			entry.OperatorID = &id
		}
	}
	if err := s.Audit.Log(r.Context(), entry); err != nil {
		s.Logger.Warn("audit_log_failed", "action", entry.Action, "request_id", entry.RequestID, "error", err)
	}
}

func advanceStatus(ctx context.Context, s store.Statuses, flow domain.Workflow, id uuid.UUID) (string, string, error) {
	current, err := s.CurrentStatus(ctx, flow.Entity, id)
	if err != nil {
		return "", "", err
	}
	next, err := flow.Next(current)
	if err != nil {
		return current, "", err
	}
	if err := s.AdvanceStatus(ctx, flow.Entity, id, current, next); err != nil {
		return current, "", err
	}
	return current, next, nil
}

// handleAdvance moves the entity named by the id URL parameter one step along flow.
func (s *Server) handleAdvance(w http.ResponseWriter, r *http.Request, flow domain.Workflow, entity string) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	id, ok := pathUUID(w, r, "id")
	if !ok {
		return
	}

	from, to, err := advanceStatus(r.Context(), s.Store, flow, id)
	if err != nil {
		if errors.Is(err, domain.ErrTerminalStatus) || errors.Is(err, domain.ErrUnknownStatus) {
			httpx.InvalidTransition(w, r, err.Error(), from)
			return
		}
		writeStoreError(w, r, err, entity)
		return
	}

	s.audit(r, audit.Entry{
		Action:     audit.AdvanceAction(entity),
		EntityType: string(flow.Entity),
		EntityID:   &id,
		Metadata:   map[string]any{"from": from, "to": to},
	})
	httpx.WriteJSON(w, http.StatusOK, AdvanceResponse{Id: id, From: from, Status: to})
}
