package rbac

import (
	"context"
	"errors"
	"log/slog"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/deelflow/deelflow/internal/audit"
	"github.com/deelflow/deelflow/internal/platform/httpx"
	"github.com/deelflow/deelflow/internal/shared"
)

// Handler exposes role management over JSON.
type Handler struct {
	logger   *slog.Logger
	service  *Service
	engine   *Engine
	gateway  *Gateway
	recorder audit.Recorder
}

// NewHandler builds the RBAC HTTP handler. recorder may be nil.
func NewHandler(logger *slog.Logger, service *Service, engine *Engine, gateway *Gateway, recorder audit.Recorder) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{logger: logger, service: service, engine: engine, gateway: gateway, recorder: recorder}
}

// MountRoutes registers RBAC routes.
func (h *Handler) MountRoutes(r chi.Router) {
	g := h.gateway
	r.With(g.Protect(OpGetRoles)).Get("/roles", h.listRoles)
	r.With(g.Protect(OpCreateRole)).Post("/roles", h.createRole)
	r.With(g.Protect(OpGetRoles)).Get("/roles/{roleID}", h.getRole)
	r.With(g.Protect(OpUpdateRolePermissions)).Put("/roles/{roleID}/permissions", h.updateRolePermissions)
	r.With(g.Protect(OpDeleteRole)).Delete("/roles/{roleID}", h.deleteRole)
	r.With(g.Protect(OpGetPermissions)).Get("/permissions", h.listPermissions)
	r.With(g.Protect(OpGetUserRoles)).Get("/users/{userID}/roles", h.userRoles)
	r.With(g.Protect(OpUpdateUserRoles)).Put("/users/{userID}/roles", h.replaceUserRoles)
	r.With(g.Protect(OpAssignUserRole)).Put("/users/{userID}/roles/{roleID}", h.assignRole)
	r.With(g.Protect(OpRevokeUserRole)).Delete("/users/{userID}/roles/{roleID}", h.revokeRole)
	r.With(g.Authenticate).Get("/me/permissions", h.myPermissions)
}

type roleResponse struct {
	ID          string    `json:"id"`
	Name        string    `json:"name"`
	Label       string    `json:"label"`
	Permissions []string  `json:"permissions"`
	UsersCount  *int      `json:"users_count,omitempty"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
}

type roleToggleResponse struct {
	ID      string `json:"id"`
	Name    string `json:"name"`
	Label   string `json:"label"`
	Enabled bool   `json:"enabled"`
}

type permissionResponse struct {
	Name  string               `json:"name"`
	Label string               `json:"label"`
	Roles []roleToggleResponse `json:"roles"`
}

type permissionGroupResponse struct {
	Group       string               `json:"group"`
	Permissions []permissionResponse `json:"permissions"`
}

type createRoleRequest struct {
	Name        string   `json:"name" validate:"required,max=64"`
	Label       string   `json:"label" validate:"max=128"`
	Permissions []string `json:"permissions" validate:"dive,required"`
}

type updatePermissionsRequest struct {
	Permissions []string `json:"permissions" validate:"required,dive,required"`
}

type replaceUserRolesRequest struct {
	Roles []string `json:"roles" validate:"required,dive,required"`
}

func (h *Handler) listRoles(w http.ResponseWriter, r *http.Request) {
	viewer, _ := shared.UserIDFromContext(r.Context())
	summaries, err := h.service.RoleSummaries(r.Context(), viewer)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]roleResponse, 0, len(summaries))
	for _, s := range summaries {
		resp := toRoleResponse(s.Role)
		resp.UsersCount = s.UsersCount
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"roles": out})
}

func (h *Handler) getRole(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "roleID")
	if err := h.checkRoleAccess(r, ref); err != nil {
		h.respondError(w, r, err)
		return
	}
	role, err := h.service.GetRole(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) createRole(w http.ResponseWriter, r *http.Request) {
	var req createRoleRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	role, err := h.service.CreateRole(r.Context(), CreateRoleInput{
		Name:        req.Name,
		Label:       req.Label,
		Permissions: req.Permissions,
	})
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordChange(r.Context(), audit.ActionRoleCreate, "role", role.ID, map[string]any{
		"name":        role.Name,
		"permissions": role.Permissions,
	})
	httpx.JSON(w, http.StatusCreated, toRoleResponse(role))
}

func (h *Handler) updateRolePermissions(w http.ResponseWriter, r *http.Request) {
	var req updatePermissionsRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	ref := chi.URLParam(r, "roleID")
	if err := h.checkRoleAccess(r, ref); err != nil {
		h.respondError(w, r, err)
		return
	}
	role, err := h.service.UpdateRolePermissions(r.Context(), ref, req.Permissions)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordChange(r.Context(), audit.ActionRolePermissions, "role", role.ID, map[string]any{
		"permissions": role.Permissions,
	})
	httpx.JSON(w, http.StatusOK, toRoleResponse(role))
}

func (h *Handler) deleteRole(w http.ResponseWriter, r *http.Request) {
	ref := chi.URLParam(r, "roleID")
	if err := h.checkRoleAccess(r, ref); err != nil {
		h.respondError(w, r, err)
		return
	}
	role, err := h.service.DeleteRole(r.Context(), ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordChange(r.Context(), audit.ActionRoleDelete, "role", role.ID, map[string]any{"name": role.Name})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) listPermissions(w http.ResponseWriter, r *http.Request) {
	viewer, _ := shared.UserIDFromContext(r.Context())
	groups, err := h.service.PermissionMatrix(r.Context(), viewer)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	out := make([]permissionGroupResponse, 0, len(groups))
	for _, group := range groups {
		resp := permissionGroupResponse{Group: group.Group, Permissions: make([]permissionResponse, 0, len(group.Permissions))}
		for _, row := range group.Permissions {
			perm := permissionResponse{Name: row.Name, Label: row.Label, Roles: make([]roleToggleResponse, 0, len(row.Roles))}
			for _, toggle := range row.Roles {
				perm.Roles = append(perm.Roles, roleToggleResponse{
					ID:      toggle.RoleID,
					Name:    toggle.Name,
					Label:   toggle.Label,
					Enabled: toggle.Enabled,
				})
			}
			resp.Permissions = append(resp.Permissions, perm)
		}
		out = append(out, resp)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"groups": out})
}

func (h *Handler) userRoles(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	roles, err := h.service.UserRoles(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": toRoleResponses(roles)})
}

func (h *Handler) replaceUserRoles(w http.ResponseWriter, r *http.Request) {
	var req replaceUserRolesRequest
	if err := httpx.DecodeAndValidate(r, &req); err != nil {
		httpx.RespondError(w, err)
		return
	}
	userID := chi.URLParam(r, "userID")
	if err := h.checkRoleAccess(r, req.Roles...); err != nil {
		h.respondError(w, r, err)
		return
	}
	roles, err := h.service.ReplaceUserRoles(r.Context(), userID, req.Roles)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	h.recordChange(r.Context(), audit.ActionUserRolesReplace, "user", userID, map[string]any{"roles": names})
	httpx.JSON(w, http.StatusOK, map[string]any{"user_id": userID, "roles": toRoleResponses(roles)})
}

func (h *Handler) assignRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	ref := chi.URLParam(r, "roleID")
	if err := h.checkRoleAccess(r, ref); err != nil {
		h.respondError(w, r, err)
		return
	}
	role, err := h.service.AssignRole(r.Context(), userID, ref)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	h.recordChange(r.Context(), audit.ActionUserRoleAssign, "user", userID, map[string]any{"role": role.Name})
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) revokeRole(w http.ResponseWriter, r *http.Request) {
	userID := chi.URLParam(r, "userID")
	roleRef := chi.URLParam(r, "roleID")
	if err := h.checkRoleAccess(r, roleRef); err != nil {
		h.respondError(w, r, err)
		return
	}
	revoked, err := h.service.RevokeRole(r.Context(), userID, roleRef)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	if revoked {
		h.recordChange(r.Context(), audit.ActionUserRoleRevoke, "user", userID, map[string]any{"role": roleRef})
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) myPermissions(w http.ResponseWriter, r *http.Request) {
	userID, _ := shared.UserIDFromContext(r.Context())
	perms, err := h.engine.EffectivePermissions(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	roles, err := h.service.UserRoles(r.Context(), userID)
	if err != nil {
		h.respondError(w, r, err)
		return
	}
	names := make([]string, 0, len(roles))
	for _, role := range roles {
		names = append(names, role.Name)
	}
	httpx.JSON(w, http.StatusOK, map[string]any{
		"user_id":     userID,
		"roles":       names,
		"permissions": perms,
	})
}

func (h *Handler) checkRoleAccess(r *http.Request, refs ...string) error {
	viewer, _ := shared.UserIDFromContext(r.Context())
	return h.service.CheckRoleAccess(r.Context(), viewer, refs...)
}

func (h *Handler) recordChange(ctx context.Context, action, entity, entityID string, meta map[string]any) {
	if h.recorder == nil {
		return
	}
	actor, _ := shared.UserIDFromContext(ctx)
	event := audit.Event{ActorID: actor, Action: action, Entity: entity, EntityID: entityID, Meta: meta, At: time.Now()}
	if err := h.recorder.Record(ctx, event); err != nil {
		h.logger.WarnContext(ctx, "rbac audit change", slog.String("action", action), slog.Any("error", err))
	}
}

// respondError translates store errors. Callers only reach it after passing
// the gateway, so distinguishing missing roles from denial leaks nothing.
func (h *Handler) respondError(w http.ResponseWriter, r *http.Request, err error) {
	switch {
	case errors.Is(err, ErrDuplicateRoleName):
		httpx.Problem(w, http.StatusConflict, "Duplicate", err.Error())
	case errors.Is(err, ErrRoleNotFound):
		httpx.Problem(w, http.StatusNotFound, "Not Found", err.Error())
	case errors.Is(err, ErrRoleInUse):
		httpx.Problem(w, http.StatusConflict, "Conflict", err.Error())
	case errors.Is(err, ErrUnknownPermission), errors.Is(err, ErrInvalidRole), errors.Is(err, ErrInvalidUser):
		httpx.Problem(w, http.StatusUnprocessableEntity, "Validation Failed", err.Error())
	default:
		h.logger.ErrorContext(r.Context(), "rbac request", slog.String("path", r.URL.Path), slog.Any("error", err))
		httpx.RespondError(w, err)
	}
}

func toRoleResponse(role Role) roleResponse {
	perms := role.Permissions
	if perms == nil {
		perms = []string{}
	}
	return roleResponse{
		ID:          role.ID,
		Name:        role.Name,
		Label:       role.Label,
		Permissions: perms,
		CreatedAt:   role.CreatedAt,
		UpdatedAt:   role.UpdatedAt,
	}
}

func toRoleResponses(roles []Role) []roleResponse {
	out := make([]roleResponse, 0, len(roles))
	for _, role := range roles {
		out = append(out, toRoleResponse(role))
	}
	return out
}
