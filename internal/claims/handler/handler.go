package handler

//go:generate mockgen -source=handler.go -destination=mocks/mocks.go -package=mocks Service

import (
	"context"
	"log/slog"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"careverify/internal/claims/models"
	"careverify/internal/claims/service"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/httputil"
	"careverify/pkg/requestcontext"
)

// Service is the claim state machine as seen by the HTTP layer.
type Service interface {
	Create(ctx context.Context, req *models.CreateClaimRequest) (*models.Claim, error)
	Get(ctx context.Context, claimID id.ClaimID) (*models.Claim, error)
	Submit(ctx context.Context, claimID id.ClaimID, opts ...service.CommandOption) (*models.Claim, error)
	RecordReview(ctx context.Context, claimID id.ClaimID, in *models.ReviewInput, opts ...service.CommandOption) (*models.Claim, error)
	RecordDecision(ctx context.Context, claimID id.ClaimID, in *models.DecisionInput, opts ...service.CommandOption) (*models.Claim, error)
	Appeal(ctx context.Context, claimID id.ClaimID, in *models.AppealInput, opts ...service.CommandOption) (*models.Claim, error)
	Close(ctx context.Context, claimID id.ClaimID, opts ...service.CommandOption) (*models.Claim, error)
	AssignInsurer(ctx context.Context, claimID id.ClaimID, in *models.AssignInsurerInput, opts ...service.CommandOption) (*models.Claim, error)
	AttachDocuments(ctx context.Context, claimID id.ClaimID, in *models.AttachDocumentsInput, opts ...service.CommandOption) (*models.Claim, error)
	Rescore(ctx context.Context, claimID id.ClaimID) (*models.Claim, error)
	Timeline(ctx context.Context, claimID id.ClaimID) ([]audit.Event, error)
	Reviews(ctx context.Context, claimID id.ClaimID) ([]*models.Review, error)
	Decisions(ctx context.Context, claimID id.ClaimID) ([]*models.Decision, error)
	ScoringResult(ctx context.Context, claimID id.ClaimID) (*models.ScoringResult, error)
}

// Handler exposes claim commands and reads over HTTP.
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

// Register mounts the claim routes on r.
func (h *Handler) Register(r chi.Router) {
	r.Route("/claims", func(r chi.Router) {
		r.With(requireActor).Post("/", h.HandleCreate)
		r.Route("/{claimID}", func(r chi.Router) {
			r.Get("/", h.HandleGet)
			r.Get("/timeline", h.HandleTimeline)
			r.Get("/reviews", h.HandleListReviews)
			r.Get("/decisions", h.HandleListDecisions)
			r.Get("/scoring", h.HandleScoringResult)

			r.Group(func(r chi.Router) {
				r.Use(requireActor)
				r.Post("/submit", h.HandleSubmit)
				r.Post("/reviews", h.HandleRecordReview)
				r.Post("/decisions", h.HandleRecordDecision)
				r.Post("/appeal", h.HandleAppeal)
				r.Post("/close", h.HandleClose)
				r.Post("/insurer", h.HandleAssignInsurer)
				r.Post("/documents", h.HandleAttachDocuments)
				r.Post("/rescore", h.HandleRescore)
			})
		})
	})
}

// requireActor rejects anonymous requests. Authentication itself happens upstream.
func requireActor(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if requestcontext.ActorID(r.Context()).IsNil() {
			httputil.WriteError(w, dErrors.New(dErrors.CodeUnauthorized, "actor headers are required"))
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) HandleCreate(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	requestID := requestcontext.RequestID(ctx)

	req, ok := httputil.DecodeAndPrepare[models.CreateClaimRequest](w, r, h.logger, ctx, requestID)
	if !ok {
		return
	}
	// A hospital user files claims for its own organization only.
	if requestcontext.ActorRole(ctx) == requestcontext.RoleHospital {
		if org := requestcontext.ActorOrgID(ctx); !org.IsNil() && org != req.HospitalOrgID {
			httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "hospital users may only file claims for their own organization"))
			return
		}
	}

	claim, err := h.service.Create(ctx, req)
	if err != nil {
		h.logger.WarnContext(ctx, "claim creation failed",
			"request_id", requestID,
			"error", err,
		)
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("Location", "/claims/"+claim.ID.String())
	w.Header().Set("ETag", etag(claim))
	httputil.WriteJSON(w, http.StatusCreated, claim)
}

func (h *Handler) HandleGet(w http.ResponseWriter, r *http.Request) {
	claimID, ok := claimIDParam(w, r)
	if !ok {
		return
	}
	claim, err := h.service.Get(r.Context(), claimID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("ETag", etag(claim))
	httputil.WriteJSON(w, http.StatusOK, claim)
}

func (h *Handler) HandleSubmit(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "submit", func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error) {
		return h.service.Submit(ctx, claimID, opts...)
	})
}

func (h *Handler) HandleRecordReview(w http.ResponseWriter, r *http.Request) {
	in, ok := httputil.DecodeAndPrepare[models.ReviewInput](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.command(w, r, "record_review", func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error) {
		return h.service.RecordReview(ctx, claimID, in, opts...)
	})
}

func (h *Handler) HandleRecordDecision(w http.ResponseWriter, r *http.Request) {
	in, ok := httputil.DecodeAndPrepare[models.DecisionInput](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.command(w, r, "record_decision", func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error) {
		return h.service.RecordDecision(ctx, claimID, in, opts...)
	})
}

func (h *Handler) HandleAppeal(w http.ResponseWriter, r *http.Request) {
	in, ok := httputil.DecodeAndPrepare[models.AppealInput](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.command(w, r, "appeal", func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error) {
		return h.service.Appeal(ctx, claimID, in, opts...)
	})
}

func (h *Handler) HandleClose(w http.ResponseWriter, r *http.Request) {
	h.command(w, r, "close", func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error) {
		return h.service.Close(ctx, claimID, opts...)
	})
}

func (h *Handler) HandleAssignInsurer(w http.ResponseWriter, r *http.Request) {
	if requestcontext.ActorRole(r.Context()) != requestcontext.RoleAdmin {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "only admins assign insurers manually"))
		return
	}
	in, ok := httputil.DecodeAndPrepare[models.AssignInsurerInput](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.command(w, r, "assign_insurer", func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error) {
		return h.service.AssignInsurer(ctx, claimID, in, opts...)
	})
}

func (h *Handler) HandleAttachDocuments(w http.ResponseWriter, r *http.Request) {
	in, ok := httputil.DecodeAndPrepare[models.AttachDocumentsInput](w, r, h.logger, r.Context(), requestcontext.RequestID(r.Context()))
	if !ok {
		return
	}
	h.command(w, r, "attach_documents", func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error) {
		return h.service.AttachDocuments(ctx, claimID, in, opts...)
	})
}

// HandleRescore queues a scoring run and answers 202 with the claim as it
// stands. The new score shows up on /scoring once the run completes.
func (h *Handler) HandleRescore(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	if requestcontext.ActorRole(ctx) == requestcontext.RoleHospital {
		httputil.WriteError(w, dErrors.New(dErrors.CodeForbidden, "hospital users attach documents instead of requesting a rescore"))
		return
	}
	claimID, ok := claimIDParam(w, r)
	if !ok {
		return
	}
	claim, err := h.service.Rescore(ctx, claimID)
	if err != nil {
		h.logger.InfoContext(ctx, "claim command rejected",
			"request_id", requestcontext.RequestID(ctx),
			"operation", "rescore",
			"claim_id", claimID,
			"code", dErrors.CodeOf(err),
		)
		if claim != nil {
			httputil.WriteRejection(w, err, claim)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("ETag", etag(claim))
	httputil.WriteJSON(w, http.StatusAccepted, claim)
}

func (h *Handler) HandleTimeline(w http.ResponseWriter, r *http.Request) {
	claimID, ok := claimIDParam(w, r)
	if !ok {
		return
	}
	events, err := h.service.Timeline(r.Context(), claimID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"events": toTimeline(events)})
}

func (h *Handler) HandleListReviews(w http.ResponseWriter, r *http.Request) {
	claimID, ok := claimIDParam(w, r)
	if !ok {
		return
	}
	reviews, err := h.service.Reviews(r.Context(), claimID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"reviews": nonNil(reviews)})
}

func (h *Handler) HandleListDecisions(w http.ResponseWriter, r *http.Request) {
	claimID, ok := claimIDParam(w, r)
	if !ok {
		return
	}
	decisions, err := h.service.Decisions(r.Context(), claimID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, map[string]any{"decisions": nonNil(decisions)})
}

func (h *Handler) HandleScoringResult(w http.ResponseWriter, r *http.Request) {
	claimID, ok := claimIDParam(w, r)
	if !ok {
		return
	}
	result, err := h.service.ScoringResult(r.Context(), claimID)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}
	httputil.WriteJSON(w, http.StatusOK, result)
}

type commandFunc func(ctx context.Context, claimID id.ClaimID, opts []service.CommandOption) (*models.Claim, error)

// command runs a state machine command. Rejections carry the claim as
// currently persisted so the client can reconcile.
func (h *Handler) command(w http.ResponseWriter, r *http.Request, op string, fn commandFunc) {
	ctx := r.Context()
	claimID, ok := claimIDParam(w, r)
	if !ok {
		return
	}
	opts, err := ifMatch(r)
	if err != nil {
		httputil.WriteError(w, err)
		return
	}

	claim, err := fn(ctx, claimID, opts)
	if err != nil {
		h.logger.InfoContext(ctx, "claim command rejected",
			"request_id", requestcontext.RequestID(ctx),
			"operation", op,
			"claim_id", claimID,
			"code", dErrors.CodeOf(err),
		)
		if claim != nil {
			httputil.WriteRejection(w, err, claim)
			return
		}
		httputil.WriteError(w, err)
		return
	}
	w.Header().Set("ETag", etag(claim))
	httputil.WriteJSON(w, http.StatusOK, claim)
}

func claimIDParam(w http.ResponseWriter, r *http.Request) (id.ClaimID, bool) {
	claimID, err := id.ParseClaimID(chi.URLParam(r, "claimID"))
	if err != nil {
		httputil.WriteError(w, err)
		return id.ClaimID{}, false
	}
	return claimID, true
}

// ifMatch turns an If-Match version header into an IfVersion option.
func ifMatch(r *http.Request) ([]service.CommandOption, error) {
	raw := strings.Trim(strings.TrimSpace(r.Header.Get("If-Match")), `"`)
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseInt(raw, 10, 64)
	if err != nil || v < 1 {
		return nil, dErrors.New(dErrors.CodeBadRequest, "If-Match must be a claim version")
	}
	return []service.CommandOption{service.IfVersion(v)}, nil
}

func etag(c *models.Claim) string {
	return `"` + strconv.FormatInt(c.Version, 10) + `"`
}

func nonNil[T any](items []T) []T {
	if items == nil {
		return []T{}
	}
	return items
}
