// Prestation HTTP handlers.
//
// This file exposes the REST endpoints for prestation resources:
//   - POST   /prestations              (register a new request)
//   - GET    /prestations              (list, filtered + paginated, ETag)
//   - GET    /prestations/stats        (dashboard aggregates)
//   - GET    /prestations/{id}         (fetch one)
//   - PUT    /prestations/{id}         (edit)
//   - POST   /prestations/{id}/accept  (mint acceptance code)
//   - POST   /prestations/{id}/validate (assign to a department)
//   - POST   /prestations/{id}/reject  (refuse with reason)
//   - DELETE /prestations/{id}         (remove, freeing the sequence number)
//
// Handlers are transport-thin: they bind and validate payloads, call the
// application service, and translate its error taxonomy into HTTP responses.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"
	"gorm.io/gorm"

	"github.com/gcgeo/go-prestation-backend/internal/domain"
	"github.com/gcgeo/go-prestation-backend/internal/http/middleware"
	"github.com/gcgeo/go-prestation-backend/internal/repo"
	"github.com/gcgeo/go-prestation-backend/internal/services"
	"github.com/gcgeo/go-prestation-backend/internal/utils"
)

//
// Service contract (context-aware)
//

// PrestationService defines the lifecycle operations consumed by the HTTP
// handlers. Implementations must be safe for concurrent use and honor the
// provided context.
type PrestationService interface {
	Create(ctx context.Context, in services.CreateInput) (*domain.Prestation, []services.UploadError, error)
	Accept(ctx context.Context, id, actor string) (*domain.Prestation, error)
	Validate(ctx context.Context, id, department string, priority domain.Priority, notes string) (*domain.Prestation, error)
	Update(ctx context.Context, id string, in services.UpdateInput) (*domain.Prestation, []services.UploadError, error)
	Reject(ctx context.Context, id, reason string) (*domain.Prestation, error)
	Delete(ctx context.Context, id string) error
	Get(ctx context.Context, id string) (*domain.Prestation, error)
	ListPage(ctx context.Context, f repo.ListFilter, page, pageSize int) ([]domain.Prestation, int64, error)
	Stats(ctx context.Context) (*repo.PrestationStats, error)
}

//
// Handler wiring
//

// Handlers groups the prestation HTTP endpoints.
type Handlers struct {
	svc PrestationService

	// idemTTL bounds how long a stored Idempotency-Key replays the original
	// response instead of re-running the create.
	idemTTL time.Duration
}

// New constructs a Handlers instance bound to the given service.
func New(svc PrestationService, idemTTL time.Duration) *Handlers {
	if idemTTL <= 0 {
		idemTTL = 24 * time.Hour
	}
	return &Handlers{svc: svc, idemTTL: idemTTL}
}

// db surfaces the service's database handle for ETag and idempotency
// bookkeeping. Nil when the service is a test double.
func (h *Handlers) db() *gorm.DB {
	if svc, ok := h.svc.(*services.PrestationService); ok {
		return svc.DB
	}
	return nil
}

// userID resolves the acting agent through the same rules the idempotency
// middleware uses, so stored records and replay lookups share one key.
func userID(c *gin.Context) string {
	return middleware.UserID(c)
}

//
// DTOs
//

// FilePayload carries one pending upload. Content is base64 in JSON.
type FilePayload struct {
	Filename    string `json:"filename" binding:"required" example:"plan.pdf"`
	ContentType string `json:"content_type" example:"application/pdf"`
	Content     []byte `json:"content" binding:"required" swaggertype:"string" format:"byte"`
}

// DocumentPayload is one document row of the intake or edit form.
type DocumentPayload struct {
	Name      string       `json:"name" example:"Plan de délimitation"`
	Physique  bool         `json:"physique"`
	Numerique bool         `json:"numerique"`
	File      *FilePayload `json:"file,omitempty"`
}

// CreatePrestationRequest is the JSON payload for registering a request.
type CreatePrestationRequest struct {
	ClientNom        string            `json:"client_nom" binding:"required,min=1,max=255" example:"Mballa Jean"`
	ClientType       string            `json:"client_type" example:"particulier"`
	ProcedureChoisie string            `json:"procedure_choisie" example:"bornage"`
	DepartmentID     string            `json:"department_id" example:"mfoundi"`
	Commune          string            `json:"commune" example:"Yaoundé IV"`
	LieuDit          string            `json:"lieu_dit" example:"Ekounou"`
	Priorite         string            `json:"priorite" example:"normale"`
	Documents        []DocumentPayload `json:"documents"`
}

// UpdatePrestationRequest is a partial edit; absent fields stay unchanged.
type UpdatePrestationRequest struct {
	ClientNom        *string            `json:"client_nom,omitempty"`
	ClientType       *string            `json:"client_type,omitempty"`
	ProcedureChoisie *string            `json:"procedure_choisie,omitempty"`
	DepartmentID     *string            `json:"department_id,omitempty"`
	Commune          *string            `json:"commune,omitempty"`
	LieuDit          *string            `json:"lieu_dit,omitempty"`
	Priorite         *string            `json:"priorite,omitempty"`
	Statut           *string            `json:"statut,omitempty"`
	Documents        *[]DocumentPayload `json:"documents,omitempty"`
}

// AcceptPrestationRequest names the agent performing the acceptance.
type AcceptPrestationRequest struct {
	AcceptedBy string `json:"accepted_by" binding:"required,min=1,max=128" example:"agent.ngono"`
}

// ValidatePrestationRequest assigns the request to a department.
type ValidatePrestationRequest struct {
	Department string `json:"department" binding:"required,min=1,max=64" example:"topographie"`
	Priorite   string `json:"priorite" example:"urgente"`
	Notes      string `json:"notes" example:"dossier complet"`
}

// RejectPrestationRequest refuses the request with a reason.
type RejectPrestationRequest struct {
	RaisonRefus string `json:"raison_refus" binding:"required,min=1" example:"pièces manquantes"`
}

// UploadIssue reports one document whose file could not be stored. The
// prestation itself is persisted regardless.
type UploadIssue struct {
	Document string `json:"document"`
	Error    string `json:"error"`
}

// PrestationEnvelope wraps a prestation with any non-fatal upload issues.
type PrestationEnvelope struct {
	Prestation   *domain.Prestation `json:"prestation"`
	UploadIssues []UploadIssue      `json:"upload_issues,omitempty"`
}

// Pagination carries pagination metadata for list responses.
type Pagination struct {
	Page       int   `json:"page"`
	PageSize   int   `json:"page_size"`
	Total      int64 `json:"total"`
	TotalPages int   `json:"total_pages"`
	HasNext    bool  `json:"has_next"`
}

// ListPrestationsResponse wraps a page of prestations.
type ListPrestationsResponse struct {
	Prestations []domain.Prestation `json:"prestations"`
	Pagination  Pagination          `json:"pagination"`
}

//
// Helpers
//

func toDocumentInputs(payloads []DocumentPayload) []services.DocumentInput {
	out := make([]services.DocumentInput, 0, len(payloads))
	for _, d := range payloads {
		in := services.DocumentInput{
			Name:      d.Name,
			Physique:  d.Physique,
			Numerique: d.Numerique,
		}
		if d.File != nil {
			in.File = &services.FileUpload{
				Filename:    d.File.Filename,
				ContentType: d.File.ContentType,
				Content:     d.File.Content,
			}
		}
		out = append(out, in)
	}
	return out
}

func toUploadIssues(errs []services.UploadError) []UploadIssue {
	if len(errs) == 0 {
		return nil
	}
	out := make([]UploadIssue, 0, len(errs))
	for _, e := range errs {
		out = append(out, UploadIssue{Document: e.Document, Error: e.Err.Error()})
	}
	return out
}

// clampPagination parses and bounds page and page_size query params.
func clampPagination(c *gin.Context) (page, pageSize int) {
	const (
		defaultPage     = 1
		defaultPageSize = 20
		maxPageSize     = 100
	)
	page = utils.AtoiDefault(c.Query("page"), defaultPage)
	if page < 1 {
		page = 1
	}
	pageSize = utils.AtoiDefault(c.Query("page_size"), defaultPageSize)
	if pageSize < 1 {
		pageSize = 1
	}
	if pageSize > maxPageSize {
		pageSize = maxPageSize
	}
	return
}

// failService translates the service error taxonomy into HTTP responses.
func failService(c *gin.Context, err error) {
	var (
		ve *services.ValidationError
		te *services.IllegalTransitionError
		ae *services.AllocationError
	)
	switch {
	case errors.Is(err, services.ErrPrestationNotFound):
		fail(c, http.StatusNotFound, ErrCodeNotFound, "prestation not found")
	case errors.As(err, &ve):
		fail(c, http.StatusUnprocessableEntity, ErrCodeValidationFailed, ve.Error())
	case errors.As(err, &te):
		fail(c, http.StatusConflict, ErrCodeIllegalTransition, te.Error())
	case errors.As(err, &ae):
		fail(c, http.StatusServiceUnavailable, ErrCodeAllocationFailed, "could not allocate a code, please retry")
	default:
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
	}
}

// requireUUID validates the :id path parameter.
func requireUUID(c *gin.Context) (string, bool) {
	id := c.Param("id")
	if _, err := uuid.Parse(id); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "prestation id must be a UUID")
		return "", false
	}
	return id, true
}

//
// Handlers
//

// CreatePrestation godoc
// @ID          createPrestation
// @Summary     Register a new prestation
// @Description Registers a service request, allocating the next free intake code for the current month. Supports Idempotency-Key replay.
// @Tags        Prestations
// @Accept      json
// @Produce     json
//
// @Param       X-User-ID        header  string  false "Agent ID (demo header)" example(agent.ngono)
// @Param       Idempotency-Key  header  string  false "Safe-retry key for this submit"
// @Param       body             body    handlers.CreatePrestationRequest  true  "Intake payload"
//
// @Success     201  {object}  handlers.PrestationEnvelope
// @Failure     400  {object}  handlers.ErrorResponse "Bad request"
// @Failure     422  {object}  handlers.ErrorResponse "Validation failed"
// @Failure     503  {object}  handlers.ErrorResponse "Allocation contention"
// @Failure     500  {object}  handlers.ErrorResponse "Internal error"
// @Router      /prestations [post]
func (h *Handlers) CreatePrestation(c *gin.Context) {
	ctx := c.Request.Context()
	uid := userID(c)
	route := c.FullPath()

	// Serve a detected replay from the stored record; no new code is minted.
	if middleware.IsReplay(c) {
		if db := h.db(); db != nil {
			if key, hasKey := middleware.GetIdempotencyKey(c); hasKey {
				if rec, err := repo.GetIdempotency(ctx, db, uid, route, key, time.Now().UTC()); err == nil {
					if p, err := h.svc.Get(ctx, rec.RecordID); err == nil {
						ok(c, rec.Status, PrestationEnvelope{Prestation: p})
						return
					}
				}
			}
		}
	}

	var req CreatePrestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	p, uploadErrs, err := h.svc.Create(ctx, services.CreateInput{
		ClientNom:        req.ClientNom,
		ClientType:       req.ClientType,
		ProcedureChoisie: req.ProcedureChoisie,
		DepartmentID:     req.DepartmentID,
		Commune:          req.Commune,
		LieuDit:          req.LieuDit,
		Priorite:         domain.Priority(req.Priorite),
		Documents:        toDocumentInputs(req.Documents),
	})
	if err != nil {
		failService(c, err)
		return
	}

	// Record the key after success so the next retry replays this result.
	if key, hasKey := middleware.GetIdempotencyKey(c); hasKey {
		if db := h.db(); db != nil {
			if _, err := repo.CreateIdempotency(ctx, db, uid, route, key, p.ID, http.StatusCreated, h.idemTTL); err != nil && !errors.Is(err, repo.ErrDuplicate) {
				middleware.LoggerFrom(c).Warn().Err(err).Msg("idempotency record not stored")
			}
		}
	}

	ok(c, http.StatusCreated, PrestationEnvelope{Prestation: p, UploadIssues: toUploadIssues(uploadErrs)})
}

// ListPrestations godoc
// @ID          listPrestations
// @Summary     List prestations (filtered, paginated)
// @Description Returns a page of prestations. Filters: statut, department_id, month (YYYY-MM). Supports weak ETag via If-None-Match.
// @Tags        Prestations
// @Produce     json
//
// @Param       If-None-Match  header  string  false "Return 304 if ETag matches"
// @Param       statut         query   string  false "Lifecycle status filter"   Enums(nouvelles, validees, receptionnees, renvoyees, traitees, refusees)
// @Param       department_id  query   string  false "Department filter"
// @Param       month          query   string  false "Creation month filter (YYYY-MM)"
// @Param       page           query   int     false "Page number"    minimum(1) default(1)
// @Param       page_size      query   int     false "Items per page" minimum(1) maximum(100) default(20)
//
// @Success     200  {object} handlers.ListPrestationsResponse
// @Header      200  {string} ETag "Weak ETag for current result"
// @Success     304  {string} string "Not Modified"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /prestations [get]
func (h *Handlers) ListPrestations(c *gin.Context) {
	ctx := c.Request.Context()
	page, pageSize := clampPagination(c)

	filter := repo.ListFilter{
		DepartmentID: strings.TrimSpace(c.Query("department_id")),
	}
	if s := strings.TrimSpace(c.Query("statut")); s != "" {
		st := domain.Status(s)
		if !domain.ValidStatus(st) {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "unknown statut filter")
			return
		}
		filter.Statut = st
	}
	if m := strings.TrimSpace(c.Query("month")); m != "" {
		t, err := time.Parse("2006-01", m)
		if err != nil {
			fail(c, http.StatusBadRequest, ErrCodeBadRequest, "month must be YYYY-MM")
			return
		}
		filter.Month = t
	}

	// ETag pre-check (best effort).
	if db := h.db(); db != nil {
		count, maxTS, err := repo.ListFreshness(ctx, db, filter)
		if err == nil {
			var ts int64
			if maxTS != nil {
				ts = maxTS.Unix()
			}
			etag := fmt.Sprintf(`W/"prestations:%s:%s:%s:%d:%d"`, filter.Statut, filter.DepartmentID, c.Query("month"), count, ts)
			c.Header("ETag", etag)
			if inm := c.GetHeader("If-None-Match"); inm != "" && inm == etag {
				c.Status(http.StatusNotModified)
				return
			}
		}
	}

	items, total, err := h.svc.ListPage(ctx, filter, page, pageSize)
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}

	totalPages := int((total + int64(pageSize) - 1) / int64(pageSize))
	ok(c, http.StatusOK, ListPrestationsResponse{
		Prestations: items,
		Pagination: Pagination{
			Page:       page,
			PageSize:   pageSize,
			Total:      total,
			TotalPages: totalPages,
			HasNext:    page < totalPages,
		},
	})
}

// GetStats godoc
// @ID          getPrestationStats
// @Summary     Dashboard aggregates
// @Description Returns the total count, per-status counts, and the current month's intake count.
// @Tags        Prestations
// @Produce     json
//
// @Success     200  {object} repo.PrestationStats
// @Failure     500  {object} handlers.ErrorResponse "Internal error"
// @Router      /prestations/stats [get]
func (h *Handlers) GetStats(c *gin.Context) {
	stats, err := h.svc.Stats(c.Request.Context())
	if err != nil {
		fail(c, http.StatusInternalServerError, ErrCodeInternal, err.Error())
		return
	}
	ok(c, http.StatusOK, stats)
}

// GetPrestation godoc
// @ID          getPrestation
// @Summary     Fetch one prestation
// @Tags        Prestations
// @Produce     json
//
// @Param       id  path  string  true  "Prestation ID (UUID)" format(uuid)
//
// @Success     200  {object} domain.Prestation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Router      /prestations/{id} [get]
func (h *Handlers) GetPrestation(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	p, err := h.svc.Get(c.Request.Context(), id)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// UpdatePrestation godoc
// @ID          updatePrestation
// @Summary     Edit a prestation
// @Description Applies a partial edit. A statut change must follow the lifecycle's edit edges. Documents, when present, replace the full set.
// @Tags        Prestations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Prestation ID (UUID)" format(uuid)
// @Param       body  body  handlers.UpdatePrestationRequest  true  "Partial edit"
//
// @Success     200  {object} handlers.PrestationEnvelope
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     409  {object} handlers.ErrorResponse "Illegal transition"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Router      /prestations/{id} [put]
func (h *Handlers) UpdatePrestation(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}

	var req UpdatePrestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "invalid JSON body")
		return
	}

	in := services.UpdateInput{
		ClientNom:        req.ClientNom,
		ClientType:       req.ClientType,
		ProcedureChoisie: req.ProcedureChoisie,
		DepartmentID:     req.DepartmentID,
		Commune:          req.Commune,
		LieuDit:          req.LieuDit,
	}
	if req.Priorite != nil {
		p := domain.Priority(*req.Priorite)
		in.Priorite = &p
	}
	if req.Statut != nil {
		s := domain.Status(*req.Statut)
		in.Statut = &s
	}
	if req.Documents != nil {
		docs := toDocumentInputs(*req.Documents)
		in.Documents = &docs
	}

	p, uploadErrs, err := h.svc.Update(c.Request.Context(), id, in)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, PrestationEnvelope{Prestation: p, UploadIssues: toUploadIssues(uploadErrs)})
}

// AcceptPrestation godoc
// @ID          acceptPrestation
// @Summary     Accept a prestation
// @Description Moves a "nouvelles" request to "validees", minting its acceptance code from the current month's sequence.
// @Tags        Prestations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Prestation ID (UUID)" format(uuid)
// @Param       body  body  handlers.AcceptPrestationRequest  true  "Acting agent"
//
// @Success     200  {object} domain.Prestation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     409  {object} handlers.ErrorResponse "Illegal transition"
// @Failure     503  {object} handlers.ErrorResponse "Allocation contention"
// @Router      /prestations/{id}/accept [post]
func (h *Handlers) AcceptPrestation(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}

	var req AcceptPrestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "accepted_by required")
		return
	}

	p, err := h.svc.Accept(c.Request.Context(), id, req.AcceptedBy)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// ValidatePrestation godoc
// @ID          validatePrestation
// @Summary     Validate a prestation
// @Description Moves a "nouvelles" request to "receptionnees", assigning a department, a priority, and optional notes.
// @Tags        Prestations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Prestation ID (UUID)" format(uuid)
// @Param       body  body  handlers.ValidatePrestationRequest  true  "Assignment"
//
// @Success     200  {object} domain.Prestation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     409  {object} handlers.ErrorResponse "Illegal transition"
// @Failure     422  {object} handlers.ErrorResponse "Validation failed"
// @Router      /prestations/{id}/validate [post]
func (h *Handlers) ValidatePrestation(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}

	var req ValidatePrestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "department required")
		return
	}

	p, err := h.svc.Validate(c.Request.Context(), id, req.Department, domain.Priority(req.Priorite), req.Notes)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// RejectPrestation godoc
// @ID          rejectPrestation
// @Summary     Refuse a prestation
// @Description Moves a non-terminal request to "refusees" with the stated reason.
// @Tags        Prestations
// @Accept      json
// @Produce     json
//
// @Param       id    path  string  true  "Prestation ID (UUID)" format(uuid)
// @Param       body  body  handlers.RejectPrestationRequest  true  "Refusal reason"
//
// @Success     200  {object} domain.Prestation
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     409  {object} handlers.ErrorResponse "Illegal transition"
// @Router      /prestations/{id}/reject [post]
func (h *Handlers) RejectPrestation(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}

	var req RejectPrestationRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		fail(c, http.StatusBadRequest, ErrCodeBadRequest, "raison_refus required")
		return
	}

	p, err := h.svc.Reject(c.Request.Context(), id, req.RaisonRefus)
	if err != nil {
		failService(c, err)
		return
	}
	ok(c, http.StatusOK, p)
}

// DeletePrestation godoc
// @ID          deletePrestation
// @Summary     Delete a prestation
// @Description Physically removes a request in "nouvelles", "renvoyees", or "refusees". The freed sequence number becomes reallocatable.
// @Tags        Prestations
// @Produce     json
//
// @Param       id  path  string  true  "Prestation ID (UUID)" format(uuid)
//
// @Success     204  {string} string "No Content"
// @Failure     400  {object} handlers.ErrorResponse "Bad request"
// @Failure     404  {object} handlers.ErrorResponse "Not found"
// @Failure     409  {object} handlers.ErrorResponse "Illegal transition"
// @Router      /prestations/{id} [delete]
func (h *Handlers) DeletePrestation(c *gin.Context) {
	id, valid := requireUUID(c)
	if !valid {
		return
	}
	if err := h.svc.Delete(c.Request.Context(), id); err != nil {
		failService(c, err)
		return
	}
	noContent(c)
}
