package http

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sort"

	"github.com/go-chi/chi/v5"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/hibiken/asynq"
	"golang.org/x/text/language"

	"github.com/odyssey-erp/secengine/internal/groups"
	"github.com/odyssey-erp/secengine/internal/platform/httpx"
	"github.com/odyssey-erp/secengine/internal/security"
	"github.com/odyssey-erp/secengine/internal/usersession"
)

// InvalidationQueue schedules the removal of a user's registered sessions.
type InvalidationQueue interface {
	EnqueuePermissionsInvalidate(ctx context.Context, userID uuid.UUID, reason string) (*asynq.TaskInfo, error)
}

// Handler exposes the session engine over HTTP for diagnostics and for
// services that need to compile or inspect sessions remotely.
type Handler struct {
	logger    *slog.Logger
	manager   *usersession.Manager
	groups    *groups.Repository
	registry  *usersession.Registry
	queue     InvalidationQueue
	validator *validator.Validate
}

// NewHandler constructs a Handler. queue may be nil, in which case only the
// local role cache is invalidated.
func NewHandler(logger *slog.Logger, manager *usersession.Manager, groupRepo *groups.Repository, registry *usersession.Registry, queue InvalidationQueue) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{
		logger:    logger,
		manager:   manager,
		groups:    groupRepo,
		registry:  registry,
		queue:     queue,
		validator: validator.New(),
	}
}

// MountRoutes registers the API routes on r.
func (h *Handler) MountRoutes(r chi.Router) {
	r.Post("/permissions/check", h.checkPermission)
	r.Get("/groups/named", h.listNamedGroups)
	r.Get("/groups/named/{name}", h.namedGroup)
	r.Get("/groups/{id}/definition", h.groupDefinition)
	r.Post("/sessions", h.createSession)
	r.Get("/sessions/{id}", h.getSession)
	r.Delete("/sessions/{id}", h.removeSession)
	r.Post("/sessions/{id}/substitute", h.substitute)
	r.Post("/users/{id}/permissions/invalidate", h.invalidate)
}

type checkRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Type   string `json:"type" validate:"required,oneof=SCREEN ENTITY_OP ENTITY_ATTR SPECIFIC UI"`
	Target string `json:"target" validate:"required"`
	Value  *int   `json:"value" validate:"omitempty,gte=0"`
}

type checkResponse struct {
	UserID    uuid.UUID `json:"user_id"`
	Type      string    `json:"type"`
	Target    string    `json:"target"`
	Recorded  bool      `json:"recorded"`
	Value     *int      `json:"value,omitempty"`
	Permitted *bool     `json:"permitted,omitempty"`
}

func (h *Handler) checkPermission(w http.ResponseWriter, r *http.Request) {
	var req checkRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID := uuid.MustParse(req.UserID)
	typ, _ := security.ParsePermissionType(req.Type)

	value, ok, err := h.manager.PermissionValue(r.Context(), userID, typ, req.Target)
	if err != nil {
		h.fail(w, "permission check", err)
		return
	}
	resp := checkResponse{UserID: userID, Type: req.Type, Target: req.Target, Recorded: ok}
	if ok {
		resp.Value = &value
	}
	if req.Value != nil {
		permitted := ok && value >= *req.Value
		resp.Permitted = &permitted
	}
	httpx.JSON(w, http.StatusOK, resp)
}

type ruleResponse struct {
	Entity    string `json:"entity"`
	Kind      string `json:"kind"`
	Where     string `json:"where,omitempty"`
	Join      string `json:"join,omitempty"`
	Operation string `json:"operation,omitempty"`
	Script    string `json:"script,omitempty"`
	Code      string `json:"code,omitempty"`
}

type definitionResponse struct {
	Name       string         `json:"name"`
	Rules      []ruleResponse `json:"rules"`
	Attributes map[string]any `json:"attributes"`
}

func toDefinitionResponse(def *groups.AccessGroupDefinition) definitionResponse {
	resp := definitionResponse{Name: def.Name(), Rules: []ruleResponse{}, Attributes: def.SessionAttributes()}
	set := def.Constraints()
	for _, entity := range set.Entities() {
		for _, rule := range set.ForEntity(entity) {
			switch c := rule.(type) {
			case groups.JPQLConstraint:
				resp.Rules = append(resp.Rules, ruleResponse{Entity: c.EntityName, Kind: "jpql", Where: c.Where, Join: c.Join})
			case groups.ScriptConstraint:
				resp.Rules = append(resp.Rules, ruleResponse{Entity: c.EntityName, Kind: "script", Operation: string(c.Operation), Script: c.Script})
			case groups.CustomScriptConstraint:
				resp.Rules = append(resp.Rules, ruleResponse{Entity: c.EntityName, Kind: "custom", Code: c.Code, Join: c.Join})
			}
		}
	}
	return resp
}

func (h *Handler) groupDefinition(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	def, err := h.groups.Definition(r.Context(), groups.ByID(id))
	if err != nil {
		h.fail(w, "group definition", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDefinitionResponse(def))
}

func (h *Handler) namedGroup(w http.ResponseWriter, r *http.Request) {
	def, err := h.groups.Definition(r.Context(), groups.ByName(chi.URLParam(r, "name")))
	if err != nil {
		h.fail(w, "named group", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toDefinitionResponse(def))
}

func (h *Handler) listNamedGroups(w http.ResponseWriter, r *http.Request) {
	names := make([]string, 0)
	for _, def := range h.groups.Definitions() {
		names = append(names, def.Name())
	}
	httpx.JSON(w, http.StatusOK, map[string][]string{"groups": names})
}

type permissionEntry struct {
	Type   string `json:"type"`
	Target string `json:"target"`
	Value  int    `json:"value"`
}

type sessionResponse struct {
	ID                uuid.UUID         `json:"id"`
	UserID            uuid.UUID         `json:"user_id"`
	Login             string            `json:"login"`
	SubstitutedUserID *uuid.UUID        `json:"substituted_user_id,omitempty"`
	Locale            string            `json:"locale"`
	System            bool              `json:"system"`
	SuperRole         bool              `json:"super_role"`
	Roles             []string          `json:"roles"`
	Permissions       []permissionEntry `json:"permissions"`
	Constraints       int               `json:"constraints"`
	AccessGroup       string            `json:"access_group,omitempty"`
	Attributes        map[string]any    `json:"attributes"`
}

func toSessionResponse(s *usersession.UserSession) sessionResponse {
	resp := sessionResponse{
		ID:          s.ID(),
		UserID:      s.User().ID,
		Login:       s.User().Login,
		Locale:      s.Locale().String(),
		System:      s.IsSystem(),
		SuperRole:   s.HasSuperRole(),
		Roles:       s.RoleNames(),
		Permissions: []permissionEntry{},
		Constraints: len(s.Constraints()),
		Attributes:  make(map[string]any),
	}
	if sub, ok := s.SubstitutedUser(); ok {
		resp.SubstitutedUserID = &sub.ID
	}
	if def := s.AccessGroup(); def != nil {
		resp.AccessGroup = def.Name()
	}
	for key, value := range s.Permissions() {
		resp.Permissions = append(resp.Permissions, permissionEntry{Type: key.Type.String(), Target: key.Target, Value: value})
	}
	sort.Slice(resp.Permissions, func(i, j int) bool {
		if resp.Permissions[i].Type != resp.Permissions[j].Type {
			return resp.Permissions[i].Type < resp.Permissions[j].Type
		}
		return resp.Permissions[i].Target < resp.Permissions[j].Target
	})
	for _, name := range s.AttributeNames() {
		if v, ok := s.Attribute(name); ok {
			resp.Attributes[name] = v
		}
	}
	return resp
}

type createSessionRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
	Locale string `json:"locale" validate:"omitempty,bcp47_language_tag"`
	System bool   `json:"system"`
}

func (h *Handler) createSession(w http.ResponseWriter, r *http.Request) {
	var req createSessionRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	user, roles, err := h.manager.LoadUser(ctx, uuid.MustParse(req.UserID))
	if err != nil {
		h.fail(w, "load user", err)
		return
	}
	locale := language.Und
	if req.Locale != "" {
		locale = language.Make(req.Locale)
	}
	s, err := h.manager.CreateSession(ctx, user, roles, locale, req.System)
	if err != nil {
		h.fail(w, "create session", err)
		return
	}
	if err := h.registry.Add(ctx, s); err != nil {
		h.fail(w, "register session", err)
		return
	}
	h.logger.Info("session created", slog.String("session_id", s.ID().String()), slog.String("login", user.Login))
	httpx.JSON(w, http.StatusCreated, toSessionResponse(s))
}

type substituteRequest struct {
	UserID string `json:"user_id" validate:"required,uuid"`
}

func (h *Handler) substitute(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	var req substituteRequest
	if err := h.decode(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ctx := r.Context()
	src, err := h.registry.Get(ctx, id)
	if err != nil {
		h.fail(w, "load session", err)
		return
	}
	user, roles, err := h.manager.LoadUser(ctx, uuid.MustParse(req.UserID))
	if err != nil {
		h.fail(w, "load user", err)
		return
	}
	s, err := h.manager.CreateSubstitutedSession(ctx, src, user, roles)
	if err != nil {
		h.fail(w, "substitute session", err)
		return
	}
	if err := h.registry.Add(ctx, s); err != nil {
		h.fail(w, "register session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *Handler) getSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	s, err := h.registry.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "load session", err)
		return
	}
	httpx.JSON(w, http.StatusOK, toSessionResponse(s))
}

func (h *Handler) removeSession(w http.ResponseWriter, r *http.Request) {
	id, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	if err := h.registry.Remove(r.Context(), id); err != nil {
		h.fail(w, "remove session", err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

type invalidateResponse struct {
	UserID uuid.UUID `json:"user_id"`
	TaskID string    `json:"task_id,omitempty"`
}

func (h *Handler) invalidate(w http.ResponseWriter, r *http.Request) {
	userID, err := parseID(chi.URLParam(r, "id"))
	if err != nil {
		httpx.RespondError(w, err)
		return
	}
	h.manager.InvalidateUser(userID)
	resp := invalidateResponse{UserID: userID}
	if h.queue != nil {
		info, err := h.queue.EnqueuePermissionsInvalidate(r.Context(), userID, "api")
		if err != nil {
			h.fail(w, "enqueue invalidation", err)
			return
		}
		if info != nil {
			resp.TaskID = info.ID
		}
	}
	httpx.JSON(w, http.StatusAccepted, resp)
}

func (h *Handler) decode(r *http.Request, target any) error {
	if err := httpx.DecodeJSON(r, target); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	if err := h.validator.Struct(target); err != nil {
		return fmt.Errorf("%w: %v", httpx.ErrValidation, err)
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, op string, err error) {
	switch {
	case errors.Is(err, security.ErrNotFound), errors.Is(err, security.ErrNoUserSession):
		h.logger.Debug(op, slog.Any("error", err))
	default:
		h.logger.Error(op, slog.Any("error", err))
	}
	httpx.RespondError(w, err)
}

func parseID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("%w: invalid id %q", httpx.ErrValidation, raw)
	}
	return id, nil
}
