package handler

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"careverify/internal/orgs/models"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	"careverify/pkg/platform/httputil"
	"careverify/pkg/requestcontext"
)

// Service defines the organization operations exposed over HTTP.
type Service interface {
	Register(ctx context.Context, req *models.RegisterRequest) (*models.Organization, error)
	Get(ctx context.Context, orgID id.OrgID) (*models.Organization, error)
	AddRelationship(ctx context.Context, hospitalID, insurerID id.OrgID) error
	TrustHistory(ctx context.Context, orgID id.OrgID, limit int) ([]*models.TrustScore, error)
	Recompute(ctx context.Context, orgID id.OrgID) (*models.TrustScore, error)
}

type Handler struct {
	service Service
	logger  *slog.Logger
}

func New(service Service, logger *slog.Logger) *Handler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Handler{service: service, logger: logger}
}

// Register mounts organization routes. Writes are admin only.
func (h *Handler) Register(r chi.Router) {
	r.Route("/orgs", func(r chi.Router) {
		r.With(requireAdmin).Post("/", h.HandleRegister)
		r.Get("/{orgID}", h.HandleGet)
		r.Get("/{orgID}/trust", h.HandleTrustHistory)
		r.With(requireAdmin).Post("/{orgID}/trust/recompute", h.HandleRecompute)
		r.With(requireAdmin).Post("/{orgID}/relationships", h.HandleAddRelationship)
	})
}

func requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		ctx := r.Context()
		if requestcontext.ActorID(ctx).IsNil() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "actor headers are required"))
			return
		}
		if requestcontext.ActorRole(ctx) != requestcontext.RoleAdmin {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "admin role required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) HandleRegister(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	req, ok := httputil.DecodeAndPrepare[models.RegisterRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	org, err := h.service.Register(ctx, req)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/orgs/"+org.ID.String())
	httputil.WriteJSON(w, http.StatusCreated, org)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	org, err := h.service.Get(r.Context(), orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, org)
}

func (h *Handler) HandleTrustHistory(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	limit := 0
	if raw := r.URL.Query().Get("limit"); raw != "" {
		n, err := strconv.Atoi(raw)
		if err != nil || n < 1 || n > 500 {
			httputil.WriteError(w, dErrors.New(dErrors.CodeBadRequest, "limit must be between 1 and 500"))
			return
		}
		limit = n
	}
	history, err := h.service.TrustHistory(r.Context(), orgID, limit)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if history == nil {
		history = []*models.TrustScore{}
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"scores": history})
}

func (h *Handler) HandleRecompute(w http.ResponseWriter, r *http.Request) {
	orgID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	point, err := h.service.Recompute(r.Context(), orgID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	if point == nil {
		// No submitted claims in the window.
		w.WriteHeader(http.StatusNoContent)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, point)
}

func (h *Handler) HandleAddRelationship(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	hospitalID, ok := orgIDParam(w, r)
	if !ok {
		return
	}
	req, ok := httputil.DecodeAndPrepare[models.RelationshipRequest](w, r, h.logger, ctx, requestcontext.RequestID(ctx))
	if !ok {
		return
	}
	if err := h.service.AddRelationship(ctx, hospitalID, req.InsurerOrgID); err != nil {
		httputil.WriteError(w, err)
		return
	}
	h.logger.InfoContext(ctx, "relationship added",
		"hospital_org_id", hospitalID,
		"insurer_org_id", req.InsurerOrgID,
	)
	w.WriteHeader(http.StatusNoContent)
}

func orgIDParam(w http.ResponseWriter, r *http.Request) (id.OrgID, bool) {
	orgID, err := id.ParseOrgID(chi.URLParam(r, "orgID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.OrgID{}, false
	}
	return orgID, true
}
