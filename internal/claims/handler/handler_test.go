package handler

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/suite"
	"go.uber.org/mock/gomock"

	"careverify/internal/claims/handler/mocks"
	"careverify/internal/claims/models"
	"careverify/internal/claims/service"
	id "careverify/pkg/domain"
	dErrors "careverify/pkg/domain-errors"
	audit "careverify/pkg/platform/audit"
	"careverify/pkg/platform/httputil"
	"careverify/pkg/platform/middleware"
	"careverify/pkg/requestcontext"
)

type ClaimHandlerSuite struct {
	suite.Suite
	service  *mocks.MockService
	router   http.Handler
	actor    id.UserID
	hospital id.OrgID
	claimID  id.ClaimID
}

func TestClaimHandlerSuite(t *testing.T) {
	suite.Run(t, new(ClaimHandlerSuite))
}

func (s *ClaimHandlerSuite) SetupTest() {
	ctrl := gomock.NewController(s.T())
	s.service = mocks.NewMockService(ctrl)
	s.actor = id.UserID(uuid.New())
	s.hospital = id.OrgID(uuid.New())
	s.claimID = id.NewClaimID()

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.Actor)
	New(s.service, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	s.router = r
}

// =============================================================================
// Helpers
// =============================================================================

func (s *ClaimHandlerSuite) do(method, path string, role requestcontext.Role, body any, headers ...string) *httptest.ResponseRecorder {
	var reader io.Reader
	if body != nil {
		raw, err := json.Marshal(body)
		s.Require().NoError(err)
		reader = bytes.NewReader(raw)
	}
	req := httptest.NewRequest(method, path, reader)
	if role != "" {
		req.Header.Set(middleware.HeaderActorID, s.actor.String())
		req.Header.Set(middleware.HeaderActorRole, string(role))
		req.Header.Set(middleware.HeaderActorOrg, s.hospital.String())
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	s.router.ServeHTTP(w, req)
	return w
}

func (s *ClaimHandlerSuite) claimPath(suffix string) string {
	return "/claims/" + s.claimID.String() + suffix
}

func (s *ClaimHandlerSuite) claim(status models.Status, version int64) *models.Claim {
	return &models.Claim{
		ID:            s.claimID,
		ClaimNumber:   "CLM-20260301-ABCDEFGH23",
		HospitalOrgID: s.hospital,
		ClaimedAmount: 1000,
		Currency:      "INR",
		Status:        status,
		Version:       version,
	}
}

func (s *ClaimHandlerSuite) decodeError(w *httptest.ResponseRecorder) (httputil.ErrorResponse, map[string]any) {
	var raw map[string]any
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &raw))
	var resp httputil.ErrorResponse
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	current, _ := raw["current"].(map[string]any)
	return resp, current
}

// =============================================================================
// Create and read
// =============================================================================

func (s *ClaimHandlerSuite) TestCreate() {
	s.service.EXPECT().Create(gomock.Any(), gomock.Any()).
		DoAndReturn(func(_ context.Context, req *models.CreateClaimRequest) (*models.Claim, error) {
			s.Equal(s.hospital, req.HospitalOrgID)
			s.Equal(1000.0, req.ClaimedAmount)
			return s.claim(models.StatusDraft, 1), nil
		})

	w := s.do(http.MethodPost, "/claims", requestcontext.RoleHospital, map[string]any{
		"hospital_org_id": s.hospital.String(),
		"claimed_amount":  1000,
	})

	s.Equal(http.StatusCreated, w.Code)
	s.Equal("/claims/"+s.claimID.String(), w.Header().Get("Location"))
	s.Equal(`"1"`, w.Header().Get("ETag"))
	var got models.Claim
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &got))
	s.Equal(models.StatusDraft, got.Status)
}

func (s *ClaimHandlerSuite) TestCreate_Anonymous() {
	w := s.do(http.MethodPost, "/claims", "", map[string]any{"hospital_org_id": s.hospital.String(), "claimed_amount": 10})
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *ClaimHandlerSuite) TestCreate_ForeignHospital() {
	w := s.do(http.MethodPost, "/claims", requestcontext.RoleHospital, map[string]any{
		"hospital_org_id": uuid.NewString(),
		"claimed_amount":  10,
	})
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *ClaimHandlerSuite) TestCreate_InvalidBody() {
	w := s.do(http.MethodPost, "/claims", requestcontext.RoleHospital, map[string]any{
		"hospital_org_id": s.hospital.String(),
		"claimed_amount":  -5,
	})
	s.Equal(http.StatusBadRequest, w.Code)

	w = s.do(http.MethodPost, "/claims", requestcontext.RoleHospital, map[string]any{"unexpected": true})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ClaimHandlerSuite) TestGet() {
	s.service.EXPECT().Get(gomock.Any(), s.claimID).Return(s.claim(models.StatusPendingReview, 4), nil)

	w := s.do(http.MethodGet, s.claimPath(""), "", nil)

	s.Equal(http.StatusOK, w.Code)
	s.Equal(`"4"`, w.Header().Get("ETag"))
}

func (s *ClaimHandlerSuite) TestGet_BadID() {
	w := s.do(http.MethodGet, "/claims/not-a-uuid", "", nil)
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ClaimHandlerSuite) TestGet_NotFound() {
	s.service.EXPECT().Get(gomock.Any(), s.claimID).Return(nil, dErrors.New(dErrors.CodeNotFound, "claim not found"))
	w := s.do(http.MethodGet, s.claimPath(""), "", nil)
	s.Equal(http.StatusNotFound, w.Code)
}

func (s *ClaimHandlerSuite) TestTimeline() {
	at := time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	s.service.EXPECT().Timeline(gomock.Any(), s.claimID).Return([]audit.Event{{
		Seq:       7,
		Type:      audit.EventClaimStatusChanged,
		Category:  audit.CategoryCompliance,
		ActorID:   "system",
		Payload:   map[string]any{"from": "draft", "to": "submitted"},
		Timestamp: at,
	}}, nil)

	w := s.do(http.MethodGet, s.claimPath("/timeline"), "", nil)

	s.Require().Equal(http.StatusOK, w.Code)
	var resp struct {
		Events []TimelineEntry `json:"events"`
	}
	s.Require().NoError(json.Unmarshal(w.Body.Bytes(), &resp))
	s.Require().Len(resp.Events, 1)
	s.Equal(int64(7), resp.Events[0].Seq)
	s.Equal("claim_status_changed", resp.Events[0].Type)
	s.Equal("submitted", resp.Events[0].Payload["to"])
}

func (s *ClaimHandlerSuite) TestListReviews_EmptyIsArray() {
	s.service.EXPECT().Reviews(gomock.Any(), s.claimID).Return(nil, nil)
	w := s.do(http.MethodGet, s.claimPath("/reviews"), "", nil)
	s.Equal(http.StatusOK, w.Code)
	s.JSONEq(`{"reviews":[]}`, w.Body.String())
}

// =============================================================================
// Commands
// =============================================================================

func (s *ClaimHandlerSuite) TestSubmit_PassesIfMatch() {
	s.service.EXPECT().Submit(gomock.Any(), s.claimID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.ClaimID, opts ...service.CommandOption) (*models.Claim, error) {
			s.Len(opts, 1)
			return s.claim(models.StatusOCRProcessing, 2), nil
		})

	w := s.do(http.MethodPost, s.claimPath("/submit"), requestcontext.RoleHospital, nil, "If-Match", `"1"`)

	s.Equal(http.StatusOK, w.Code)
	s.Equal(`"2"`, w.Header().Get("ETag"))
}

func (s *ClaimHandlerSuite) TestSubmit_WithoutIfMatch() {
	s.service.EXPECT().Submit(gomock.Any(), s.claimID).Return(s.claim(models.StatusOCRProcessing, 2), nil)
	w := s.do(http.MethodPost, s.claimPath("/submit"), requestcontext.RoleHospital, nil)
	s.Equal(http.StatusOK, w.Code)
}

func (s *ClaimHandlerSuite) TestSubmit_BadIfMatch() {
	w := s.do(http.MethodPost, s.claimPath("/submit"), requestcontext.RoleHospital, nil, "If-Match", "abc")
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ClaimHandlerSuite) TestSubmit_RejectionCarriesCurrentState() {
	s.service.EXPECT().Submit(gomock.Any(), s.claimID).
		Return(s.claim(models.StatusOCRProcessing, 2), models.InvalidTransition(models.StatusOCRProcessing, "submit"))

	w := s.do(http.MethodPost, s.claimPath("/submit"), requestcontext.RoleHospital, nil)

	s.Equal(http.StatusConflict, w.Code)
	resp, current := s.decodeError(w)
	s.Equal(string(dErrors.CodeInvalidTransition), resp.Error)
	s.Equal("ocr_processing", current["status"])
	s.Equal(float64(2), current["version"])
}

func (s *ClaimHandlerSuite) TestSubmit_Anonymous() {
	w := s.do(http.MethodPost, s.claimPath("/submit"), "", nil)
	s.Equal(http.StatusUnauthorized, w.Code)
}

func (s *ClaimHandlerSuite) TestRecordReview() {
	s.service.EXPECT().RecordReview(gomock.Any(), s.claimID, &models.ReviewInput{Outcome: models.ReviewFlag, Notes: "odd invoice"}).
		Return(s.claim(models.StatusInsurerReview, 5), nil)

	w := s.do(http.MethodPost, s.claimPath("/reviews"), requestcontext.RoleReviewer, map[string]any{
		"outcome": "FLAG",
		"notes":   "odd invoice",
	})

	s.Equal(http.StatusOK, w.Code)
}

func (s *ClaimHandlerSuite) TestRecordReview_UnknownOutcome() {
	w := s.do(http.MethodPost, s.claimPath("/reviews"), requestcontext.RoleReviewer, map[string]any{"outcome": "maybe"})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ClaimHandlerSuite) TestRecordDecision() {
	amount := 600.0
	s.service.EXPECT().RecordDecision(gomock.Any(), s.claimID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.ClaimID, in *models.DecisionInput, _ ...service.CommandOption) (*models.Claim, error) {
			s.Equal(models.DecisionPartiallyApproved, in.Outcome)
			s.Equal(amount, *in.ApprovedAmount)
			s.Equal([]string{"R1"}, in.ReasonCodes)
			s.True(in.IsFinal)
			return s.claim(models.StatusPartiallyApproved, 6), nil
		})

	w := s.do(http.MethodPost, s.claimPath("/decisions"), requestcontext.RoleInsurer, map[string]any{
		"outcome":         "partially_approved",
		"approved_amount": amount,
		"reason_codes":    []string{"r1", "R1"},
		"is_final":        true,
	})

	s.Equal(http.StatusOK, w.Code)
}

func (s *ClaimHandlerSuite) TestAppeal_LimitExceeded() {
	s.service.EXPECT().Appeal(gomock.Any(), s.claimID, &models.AppealInput{Reason: "new evidence"}).
		Return(s.claim(models.StatusDenied, 9), dErrors.New(dErrors.CodeAppealLimitExceeded, "claim has used 2 of 2 appeals"))

	w := s.do(http.MethodPost, s.claimPath("/appeal"), requestcontext.RoleHospital, map[string]any{"reason": " new evidence "})

	s.Equal(http.StatusUnprocessableEntity, w.Code)
	resp, current := s.decodeError(w)
	s.Equal(string(dErrors.CodeAppealLimitExceeded), resp.Error)
	s.Equal("denied", current["status"])
}

func (s *ClaimHandlerSuite) TestClose_StaleVersion() {
	s.service.EXPECT().Close(gomock.Any(), s.claimID, gomock.Any()).
		Return(s.claim(models.StatusDenied, 8), dErrors.New(dErrors.CodeStaleState, "claim is at version 8, expected 7"))

	w := s.do(http.MethodPost, s.claimPath("/close"), requestcontext.RoleInsurer, nil, "If-Match", "7")

	s.Equal(http.StatusConflict, w.Code)
	resp, _ := s.decodeError(w)
	s.Equal(string(dErrors.CodeStaleState), resp.Error)
}

func (s *ClaimHandlerSuite) TestAssignInsurer_AdminOnly() {
	insurer := uuid.NewString()
	w := s.do(http.MethodPost, s.claimPath("/insurer"), requestcontext.RoleInsurer, map[string]any{"insurer_org_id": insurer})
	s.Equal(http.StatusForbidden, w.Code)

	s.service.EXPECT().AssignInsurer(gomock.Any(), s.claimID, gomock.Any()).
		Return(s.claim(models.StatusPendingReview, 4), nil)
	w = s.do(http.MethodPost, s.claimPath("/insurer"), requestcontext.RoleAdmin, map[string]any{"insurer_org_id": insurer})
	s.Equal(http.StatusOK, w.Code)
}

func (s *ClaimHandlerSuite) TestAttachDocuments() {
	s.service.EXPECT().AttachDocuments(gomock.Any(), s.claimID, gomock.Any()).
		DoAndReturn(func(_ context.Context, _ id.ClaimID, in *models.AttachDocumentsInput, _ ...service.CommandOption) (*models.Claim, error) {
			s.Require().Len(in.Documents, 1)
			s.Equal("lab-7", in.Documents[0].ID)
			return s.claim(models.StatusInsurerReview, 7), nil
		})

	w := s.do(http.MethodPost, s.claimPath("/documents"), requestcontext.RoleHospital, map[string]any{
		"documents": []map[string]any{{"id": " lab-7 ", "kind": "lab_report", "uri": "s3://docs/lab-7.pdf"}},
	})

	s.Equal(http.StatusOK, w.Code)
	s.Equal(`"7"`, w.Header().Get("ETag"))
}

func (s *ClaimHandlerSuite) TestAttachDocuments_EmptyList() {
	w := s.do(http.MethodPost, s.claimPath("/documents"), requestcontext.RoleHospital, map[string]any{"documents": []any{}})
	s.Equal(http.StatusBadRequest, w.Code)
}

func (s *ClaimHandlerSuite) TestRescore_Accepted() {
	s.service.EXPECT().Rescore(gomock.Any(), s.claimID).Return(s.claim(models.StatusInsurerReview, 7), nil)

	w := s.do(http.MethodPost, s.claimPath("/rescore"), requestcontext.RoleInsurer, nil)

	s.Equal(http.StatusAccepted, w.Code)
	s.Equal(`"7"`, w.Header().Get("ETag"))
}

func (s *ClaimHandlerSuite) TestRescore_HospitalForbidden() {
	w := s.do(http.MethodPost, s.claimPath("/rescore"), requestcontext.RoleHospital, nil)
	s.Equal(http.StatusForbidden, w.Code)
}

func (s *ClaimHandlerSuite) TestRescore_OutsideReviewCarriesCurrentState() {
	s.service.EXPECT().Rescore(gomock.Any(), s.claimID).
		Return(s.claim(models.StatusApproved, 9), models.InvalidTransition(models.StatusApproved, "rescore"))

	w := s.do(http.MethodPost, s.claimPath("/rescore"), requestcontext.RoleReviewer, nil)

	s.Equal(http.StatusConflict, w.Code)
	_, current := s.decodeError(w)
	s.Equal("approved", current["status"])
}

func (s *ClaimHandlerSuite) TestInternalErrorHidesDetail() {
	s.service.EXPECT().Close(gomock.Any(), s.claimID).
		Return(nil, dErrors.New(dErrors.CodeInternal, "pq: connection refused"))

	w := s.do(http.MethodPost, s.claimPath("/close"), requestcontext.RoleInsurer, nil)

	s.Equal(http.StatusInternalServerError, w.Code)
	s.NotContains(w.Body.String(), "connection refused")
}
