package handler

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	claimstore "careverify/internal/claims/store"
	"careverify/internal/orgs/models"
	"careverify/internal/orgs/service"
	"careverify/internal/orgs/store"
	id "careverify/pkg/domain"
	"careverify/pkg/platform/middleware"
	"careverify/pkg/requestcontext"
	"careverify/pkg/testutil"
)

type fixture struct {
	router  http.Handler
	service *service.Service
	orgs    *store.InMemoryStore
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	orgs := store.NewInMemoryStore()
	svc := service.New(orgs, claimstore.NewInMemoryClaimStore())

	r := chi.NewRouter()
	r.Use(middleware.RequestID)
	r.Use(middleware.RequestTime)
	r.Use(middleware.Actor)
	New(svc, slog.New(slog.NewTextHandler(io.Discard, nil))).Register(r)
	return &fixture{router: r, service: svc, orgs: orgs}
}

func (f *fixture) do(t *testing.T, method, path string, role requestcontext.Role, body any) *httptest.ResponseRecorder {
	t.Helper()
	req := testutil.NewJSONRequest(t, method, path, body)
	if role != "" {
		testutil.AsActor(req, role, id.OrgID{})
	}
	return testutil.DoRequest(f.router, req)
}

func (f *fixture) register(t *testing.T, name string, orgType models.OrgType) *models.Organization {
	t.Helper()
	org, err := f.service.Register(context.Background(), &models.RegisterRequest{Name: name, Type: orgType})
	require.NoError(t, err)
	return org
}

func TestHandleRegister(t *testing.T) {
	f := newFixture(t)

	t.Run("admin registers an insurer", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/orgs", requestcontext.RoleAdmin, map[string]any{
			"name":        " Shield Insurance ",
			"type":        "INSURANCE",
			"specialties": []string{"Cardiology", "cardiology "},
		})
		require.Equal(t, http.StatusCreated, w.Code)

		org := testutil.UnmarshalResponse[models.Organization](t, w)
		assert.Equal(t, "Shield Insurance", org.Name)
		assert.Equal(t, models.OrgTypeInsurance, org.Type)
		assert.Equal(t, []string{"cardiology"}, org.Specialties)
		assert.True(t, org.Active)
		assert.Equal(t, "/orgs/"+org.ID.String(), w.Header().Get("Location"))
	})

	t.Run("unknown type is rejected", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/orgs", requestcontext.RoleAdmin, map[string]any{"name": "X", "type": "pharmacy"})
		testutil.AssertStatusAndError(t, w, http.StatusBadRequest, "validation_error")
	})

	t.Run("non-admin is forbidden", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/orgs", requestcontext.RoleHospital, map[string]any{"name": "X", "type": "hospital"})
		testutil.AssertStatusAndError(t, w, http.StatusForbidden, "forbidden")
	})

	t.Run("anonymous is unauthorized", func(t *testing.T) {
		w := f.do(t, http.MethodPost, "/orgs", "", map[string]any{"name": "X", "type": "hospital"})
		testutil.AssertStatusAndError(t, w, http.StatusUnauthorized, "unauthorized")
	})
}

func TestHandleGet(t *testing.T) {
	f := newFixture(t)
	org := f.register(t, "Lakeside", models.OrgTypeHospital)

	w := f.do(t, http.MethodGet, "/orgs/"+org.ID.String(), "", nil)
	assert.Equal(t, http.StatusOK, w.Code)

	w = f.do(t, http.MethodGet, "/orgs/"+uuid.NewString(), "", nil)
	testutil.AssertStatusAndError(t, w, http.StatusNotFound, "not_found")

	w = f.do(t, http.MethodGet, "/orgs/nope", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleAddRelationship(t *testing.T) {
	f := newFixture(t)
	hospital := f.register(t, "Lakeside", models.OrgTypeHospital)
	insurer := f.register(t, "Cover Co", models.OrgTypeInsurance)

	w := f.do(t, http.MethodPost, "/orgs/"+hospital.ID.String()+"/relationships", requestcontext.RoleAdmin,
		map[string]any{"insurer_org_id": insurer.ID.String()})
	require.Equal(t, http.StatusNoContent, w.Code)

	related, err := f.orgs.RelatedInsurers(context.Background(), hospital.ID)
	require.NoError(t, err)
	assert.Contains(t, related, insurer.ID)

	w = f.do(t, http.MethodPost, "/orgs/"+insurer.ID.String()+"/relationships", requestcontext.RoleAdmin,
		map[string]any{"insurer_org_id": hospital.ID.String()})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandleTrust(t *testing.T) {
	f := newFixture(t)
	hospital := f.register(t, "Lakeside", models.OrgTypeHospital)
	base := "/orgs/" + hospital.ID.String() + "/trust"

	w := f.do(t, http.MethodPost, base+"/recompute", requestcontext.RoleAdmin, nil)
	assert.Equal(t, http.StatusNoContent, w.Code, "no claims in the window")

	w = f.do(t, http.MethodGet, base, "", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"scores":[]}`, w.Body.String())

	w = f.do(t, http.MethodGet, base+"?limit=0", "", nil)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}
