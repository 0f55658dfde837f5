package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/gcgeo/go-prestation-backend/internal/domain"
	"github.com/gcgeo/go-prestation-backend/internal/repo"
	"github.com/gcgeo/go-prestation-backend/internal/services"
)

// ---------- flexible service stub ----------

type stubSvc struct {
	create   func(context.Context, services.CreateInput) (*domain.Prestation, []services.UploadError, error)
	accept   func(context.Context, string, string) (*domain.Prestation, error)
	validate func(context.Context, string, string, domain.Priority, string) (*domain.Prestation, error)
	update   func(context.Context, string, services.UpdateInput) (*domain.Prestation, []services.UploadError, error)
	reject   func(context.Context, string, string) (*domain.Prestation, error)
	del      func(context.Context, string) error
	get      func(context.Context, string) (*domain.Prestation, error)
	listPage func(context.Context, repo.ListFilter, int, int) ([]domain.Prestation, int64, error)
	stats    func(context.Context) (*repo.PrestationStats, error)
}

func (s *stubSvc) Create(ctx context.Context, in services.CreateInput) (*domain.Prestation, []services.UploadError, error) {
	return s.create(ctx, in)
}
func (s *stubSvc) Accept(ctx context.Context, id, actor string) (*domain.Prestation, error) {
	return s.accept(ctx, id, actor)
}
func (s *stubSvc) Validate(ctx context.Context, id, dep string, prio domain.Priority, notes string) (*domain.Prestation, error) {
	return s.validate(ctx, id, dep, prio, notes)
}
func (s *stubSvc) Update(ctx context.Context, id string, in services.UpdateInput) (*domain.Prestation, []services.UploadError, error) {
	return s.update(ctx, id, in)
}
func (s *stubSvc) Reject(ctx context.Context, id, reason string) (*domain.Prestation, error) {
	return s.reject(ctx, id, reason)
}
func (s *stubSvc) Delete(ctx context.Context, id string) error { return s.del(ctx, id) }
func (s *stubSvc) Get(ctx context.Context, id string) (*domain.Prestation, error) {
	return s.get(ctx, id)
}
func (s *stubSvc) ListPage(ctx context.Context, f repo.ListFilter, page, pageSize int) ([]domain.Prestation, int64, error) {
	return s.listPage(ctx, f, page, pageSize)
}
func (s *stubSvc) Stats(ctx context.Context) (*repo.PrestationStats, error) { return s.stats(ctx) }

// ---------- helpers ----------

func newRouter(h *Handlers) *gin.Engine {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	r.POST("/prestations", h.CreatePrestation)
	r.GET("/prestations", h.ListPrestations)
	r.GET("/prestations/stats", h.GetStats)
	r.GET("/prestations/:id", h.GetPrestation)
	r.PUT("/prestations/:id", h.UpdatePrestation)
	r.DELETE("/prestations/:id", h.DeletePrestation)
	r.POST("/prestations/:id/accept", h.AcceptPrestation)
	r.POST("/prestations/:id/validate", h.ValidatePrestation)
	r.POST("/prestations/:id/reject", h.RejectPrestation)
	return r
}

func doJSON(t *testing.T, r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		if err := json.NewEncoder(&buf).Encode(body); err != nil {
			t.Fatalf("encode body: %v", err)
		}
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func decodeError(t *testing.T, w *httptest.ResponseRecorder) ErrorResponse {
	t.Helper()
	var e ErrorResponse
	if err := json.Unmarshal(w.Body.Bytes(), &e); err != nil {
		t.Fatalf("decode error body %q: %v", w.Body.String(), err)
	}
	return e
}

func samplePrestation() *domain.Prestation {
	return &domain.Prestation{
		ID:             uuid.NewString(),
		Numero:         "GCG-2025-010001",
		CodePrestation: "GCG-2025-010001",
		ClientNom:      "Mballa Jean",
		Statut:         domain.StatusNouvelles,
		Priorite:       domain.PriorityNormale,
	}
}

// ---------- Create ----------

func TestCreatePrestation_InvalidJSON(t *testing.T) {
	h := New(&stubSvc{}, 0)
	r := newRouter(h)

	req := httptest.NewRequest(http.MethodPost, "/prestations", bytes.NewBufferString("{not json"))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d, want 400", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeBadRequest {
		t.Errorf("code = %s", e.Code)
	}
}

func TestCreatePrestation_Created(t *testing.T) {
	p := samplePrestation()
	var gotIn services.CreateInput
	h := New(&stubSvc{
		create: func(_ context.Context, in services.CreateInput) (*domain.Prestation, []services.UploadError, error) {
			gotIn = in
			return p, []services.UploadError{{Document: "Plan", Err: errors.New("bucket down")}}, nil
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPost, "/prestations", CreatePrestationRequest{
		ClientNom: "Mballa Jean",
		Commune:   "Yaoundé IV",
		Documents: []DocumentPayload{
			{Name: "Plan", Numerique: true, File: &FilePayload{Filename: "plan.pdf", Content: []byte("pdf")}},
		},
	})
	if w.Code != http.StatusCreated {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var env PrestationEnvelope
	if err := json.Unmarshal(w.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if env.Prestation.Numero != p.Numero {
		t.Errorf("numero = %s", env.Prestation.Numero)
	}
	if len(env.UploadIssues) != 1 || env.UploadIssues[0].Document != "Plan" {
		t.Errorf("upload issues = %v", env.UploadIssues)
	}
	if gotIn.ClientNom != "Mballa Jean" || len(gotIn.Documents) != 1 || gotIn.Documents[0].File == nil {
		t.Errorf("service input = %+v", gotIn)
	}
}

func TestCreatePrestation_ValidationFailed(t *testing.T) {
	h := New(&stubSvc{
		create: func(context.Context, services.CreateInput) (*domain.Prestation, []services.UploadError, error) {
			return nil, nil, &services.ValidationError{Field: "documents", Reason: "document CNI has no type"}
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPost, "/prestations", CreatePrestationRequest{ClientNom: "x"})
	if w.Code != http.StatusUnprocessableEntity {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeValidationFailed {
		t.Errorf("code = %s", e.Code)
	}
}

func TestCreatePrestation_AllocationExhausted(t *testing.T) {
	h := New(&stubSvc{
		create: func(context.Context, services.CreateInput) (*domain.Prestation, []services.UploadError, error) {
			return nil, nil, &services.AllocationError{Err: services.ErrAllocationExhausted}
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPost, "/prestations", CreatePrestationRequest{ClientNom: "x"})
	if w.Code != http.StatusServiceUnavailable {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeAllocationFailed {
		t.Errorf("code = %s", e.Code)
	}
}

// ---------- Transitions ----------

func TestAcceptPrestation_Flow(t *testing.T) {
	p := samplePrestation()
	p.Statut = domain.StatusValidees
	h := New(&stubSvc{
		accept: func(_ context.Context, id, actor string) (*domain.Prestation, error) {
			if actor != "agent.ngono" {
				t.Errorf("actor = %s", actor)
			}
			return p, nil
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPost, "/prestations/"+p.ID+"/accept", AcceptPrestationRequest{AcceptedBy: "agent.ngono"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

func TestAcceptPrestation_BadID(t *testing.T) {
	h := New(&stubSvc{}, 0)
	r := newRouter(h)
	w := doJSON(t, r, http.MethodPost, "/prestations/not-a-uuid/accept", AcceptPrestationRequest{AcceptedBy: "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestAcceptPrestation_IllegalTransition(t *testing.T) {
	h := New(&stubSvc{
		accept: func(context.Context, string, string) (*domain.Prestation, error) {
			return nil, &services.IllegalTransitionError{
				Numero: "GCG-2025-010001", Current: domain.StatusValidees, Action: domain.ActionAccept,
			}
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPost, "/prestations/"+uuid.NewString()+"/accept", AcceptPrestationRequest{AcceptedBy: "x"})
	if w.Code != http.StatusConflict {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeIllegalTransition {
		t.Errorf("code = %s", e.Code)
	}
}

func TestValidatePrestation_MissingDepartment(t *testing.T) {
	h := New(&stubSvc{}, 0)
	r := newRouter(h)
	w := doJSON(t, r, http.MethodPost, "/prestations/"+uuid.NewString()+"/validate", map[string]string{"notes": "x"})
	if w.Code != http.StatusBadRequest {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestRejectPrestation_Flow(t *testing.T) {
	p := samplePrestation()
	p.Statut = domain.StatusRefusees
	h := New(&stubSvc{
		reject: func(_ context.Context, _, reason string) (*domain.Prestation, error) {
			if reason != "pièces manquantes" {
				t.Errorf("reason = %s", reason)
			}
			return p, nil
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPost, "/prestations/"+p.ID+"/reject", RejectPrestationRequest{RaisonRefus: "pièces manquantes"})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
}

// ---------- CRUD ----------

func TestGetPrestation_NotFound(t *testing.T) {
	h := New(&stubSvc{
		get: func(context.Context, string) (*domain.Prestation, error) {
			return nil, services.ErrPrestationNotFound
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodGet, "/prestations/"+uuid.NewString(), nil)
	if w.Code != http.StatusNotFound {
		t.Fatalf("status = %d", w.Code)
	}
	if e := decodeError(t, w); e.Code != ErrCodeNotFound {
		t.Errorf("code = %s", e.Code)
	}
}

func TestDeletePrestation_NoContent(t *testing.T) {
	h := New(&stubSvc{
		del: func(context.Context, string) error { return nil },
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodDelete, "/prestations/"+uuid.NewString(), nil)
	if w.Code != http.StatusNoContent {
		t.Fatalf("status = %d", w.Code)
	}
}

func TestUpdatePrestation_PassesPointers(t *testing.T) {
	p := samplePrestation()
	h := New(&stubSvc{
		update: func(_ context.Context, _ string, in services.UpdateInput) (*domain.Prestation, []services.UploadError, error) {
			if in.ClientNom == nil || *in.ClientNom != "Corrigé" {
				t.Errorf("ClientNom = %v", in.ClientNom)
			}
			if in.Statut == nil || *in.Statut != domain.StatusTraitees {
				t.Errorf("Statut = %v", in.Statut)
			}
			if in.Commune != nil {
				t.Errorf("absent field should stay nil, got %v", *in.Commune)
			}
			return p, nil, nil
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodPut, "/prestations/"+p.ID, map[string]string{
		"client_nom": "Corrigé",
		"statut":     "traitees",
	})
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}
}

// ---------- List / Stats ----------

func TestListPrestations_FilterParsing(t *testing.T) {
	h := New(&stubSvc{
		listPage: func(_ context.Context, f repo.ListFilter, page, pageSize int) ([]domain.Prestation, int64, error) {
			if f.Statut != domain.StatusNouvelles || f.DepartmentID != "topo" {
				t.Errorf("filter = %+v", f)
			}
			if f.Month.IsZero() || f.Month.Month() != 2 {
				t.Errorf("month filter = %v", f.Month)
			}
			if page != 2 || pageSize != 5 {
				t.Errorf("page/pageSize = %d/%d", page, pageSize)
			}
			return []domain.Prestation{*samplePrestation()}, 6, nil
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodGet, "/prestations?statut=nouvelles&department_id=topo&month=2025-02&page=2&page_size=5", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d, body = %s", w.Code, w.Body.String())
	}

	var resp ListPrestationsResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if resp.Pagination.Total != 6 || resp.Pagination.TotalPages != 2 || resp.Pagination.HasNext {
		t.Errorf("pagination = %+v", resp.Pagination)
	}
}

func TestListPrestations_BadFilters(t *testing.T) {
	h := New(&stubSvc{}, 0)
	r := newRouter(h)

	for _, q := range []string{"?statut=bizarre", "?month=02-2025"} {
		w := doJSON(t, r, http.MethodGet, "/prestations"+q, nil)
		if w.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", q, w.Code)
		}
	}
}

func TestGetStats(t *testing.T) {
	h := New(&stubSvc{
		stats: func(context.Context) (*repo.PrestationStats, error) {
			return &repo.PrestationStats{
				Total:     4,
				ByStatus:  map[domain.Status]int64{domain.StatusNouvelles: 3, domain.StatusValidees: 1},
				MonthNew:  2,
				MonthYear: "2025-01",
			}, nil
		},
	}, 0)
	r := newRouter(h)

	w := doJSON(t, r, http.MethodGet, "/prestations/stats", nil)
	if w.Code != http.StatusOK {
		t.Fatalf("status = %d", w.Code)
	}
	var stats repo.PrestationStats
	if err := json.Unmarshal(w.Body.Bytes(), &stats); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if stats.Total != 4 || stats.ByStatus[domain.StatusNouvelles] != 3 {
		t.Errorf("stats = %+v", stats)
	}
}
