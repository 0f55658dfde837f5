// Package services – PrestationService
//
// This file implements the application-level component that owns the
// prestation lifecycle. It validates inputs, enforces the state machine,
// runs code allocation inside bounded-retry transactions, and coordinates
// document reconciliation around the base-record writes.
//
// Observability: the mutating methods are OpenTelemetry-instrumented; spans
// carry the record identifier and the minted codes.
package services

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/google/uuid"
	"gorm.io/gorm"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/gcgeo/go-prestation-backend/internal/domain"
	"github.com/gcgeo/go-prestation-backend/internal/numbering"
	"github.com/gcgeo/go-prestation-backend/internal/repo"
	"github.com/gcgeo/go-prestation-backend/internal/storage"
)

const defaultAllocRetries = 3

// PrestationService coordinates prestation persistence, code allocation, the
// lifecycle state machine, and document handling.
type PrestationService struct {
	DB    *gorm.DB
	Docs  DocumentManager
	Alloc CodeAllocator

	// MaxAllocRetries bounds the uniqueness-retry loop around allocation
	// transactions. Values <= 0 use the default.
	MaxAllocRetries int

	// Clock returns the current instant; overridable in tests to pin the
	// allocation month. Defaults to UTC now.
	Clock func() time.Time
}

// NewPrestationService constructs a service with sane defaults over the
// given database handle and object store.
func NewPrestationService(db *gorm.DB, store storage.ObjectStore) *PrestationService {
	return &PrestationService{
		DB:              db,
		Docs:            DocumentManager{Store: store},
		MaxAllocRetries: defaultAllocRetries,
	}
}

func (s *PrestationService) now() time.Time {
	if s.Clock != nil {
		return s.Clock()
	}
	return time.Now().UTC()
}

func (s *PrestationService) retries() int {
	if s.MaxAllocRetries > 0 {
		return s.MaxAllocRetries
	}
	return defaultAllocRetries
}

// runAllocTx runs fn in a transaction, retrying on duplicate-code or
// store-contention errors up to the configured bound. Every other error,
// lifecycle violations included, aborts immediately. Exhausting the bound
// surfaces ErrAllocationExhausted wrapped with the last store error.
func (s *PrestationService) runAllocTx(ctx context.Context, scope numbering.Scope, fn func(tx *gorm.DB) error) error {
	var lastErr error
	for attempt := 0; attempt <= s.retries(); attempt++ {
		if attempt > 0 {
			allocRetries.Inc()
		}
		err := s.DB.WithContext(ctx).Transaction(fn)
		if err == nil {
			return nil
		}
		if repo.IsDuplicate(err) || repo.IsBusy(err) {
			lastErr = err
			continue
		}
		return err
	}
	return &AllocationError{Scope: scope, Err: errors.Join(ErrAllocationExhausted, lastErr)}
}

//
// Create
//

// CreateInput carries the intake form fields.
type CreateInput struct {
	ClientNom        string
	ClientType       string
	ProcedureChoisie string
	DepartmentID     string
	Commune          string
	LieuDit          string
	Priorite         domain.Priority
	Documents        []DocumentInput
}

func (in *CreateInput) validate() error {
	if strings.TrimSpace(in.ClientNom) == "" {
		return &ValidationError{Field: "client_nom", Reason: "required"}
	}
	if in.Priorite != "" && !domain.ValidPriority(in.Priorite) {
		return &ValidationError{Field: "priorite", Reason: "unknown value"}
	}
	return validateDocuments(in.Documents)
}

func validateDocuments(docs []DocumentInput) error {
	for _, d := range docs {
		if strings.TrimSpace(d.Name) == "" {
			continue // blank rows from the form are dropped, not rejected
		}
		if !d.Physique && !d.Numerique {
			return &ValidationError{Field: "documents", Reason: "document " + d.Name + " has no type"}
		}
		if d.File != nil && !d.Numerique {
			return &ValidationError{Field: "documents", Reason: "document " + d.Name + " carries a file but is not digital"}
		}
	}
	return nil
}

// Create registers a new prestation: it allocates the intake code inside a
// transaction, inserts the record with statut "nouvelles", then uploads any
// pending digital files. Upload failures are returned alongside the created
// record; the base record is already committed at that point and is not
// rolled back.
func (s *PrestationService) Create(ctx context.Context, in CreateInput) (*domain.Prestation, []UploadError, error) {
	tr := otel.Tracer("services/PrestationService")
	ctx, span := tr.Start(ctx, "Create")
	defer span.End()

	if err := in.validate(); err != nil {
		return nil, nil, err
	}

	now := s.now()
	physiques, numeriques := s.Docs.Partition(in.Documents)
	priorite := in.Priorite
	if priorite == "" {
		priorite = domain.PriorityNormale
	}

	var created *domain.Prestation
	err := s.runAllocTx(ctx, numbering.ScopeIntake, func(tx *gorm.DB) error {
		code, err := s.Alloc.NextCode(ctx, tx, numbering.ScopeIntake, now)
		if err != nil {
			return err
		}
		p := &domain.Prestation{
			ID:                  uuid.NewString(),
			Numero:              code,
			CodePrestation:      code, // acceptance re-mints this later
			ClientNom:           strings.TrimSpace(in.ClientNom),
			ClientType:          in.ClientType,
			ProcedureChoisie:    in.ProcedureChoisie,
			DepartmentID:        in.DepartmentID,
			Commune:             in.Commune,
			LieuDit:             in.LieuDit,
			DocumentsPhysiques:  physiques,
			DocumentsNumeriques: numeriques,
			DocumentURLs:        domain.URLMap{},
			Statut:              domain.StatusNouvelles,
			Priorite:            priorite,
			CreatedAt:           now,
		}
		if err := repo.CreatePrestation(ctx, tx, p); err != nil {
			return err
		}
		created = p
		return nil
	})
	if err != nil {
		return nil, nil, err
	}
	span.SetAttributes(
		attribute.String("prestation.id", created.ID),
		attribute.String("prestation.numero", created.Numero),
	)

	if !hasPendingFiles(in.Documents) {
		return created, nil, nil
	}

	urls, uploadErrs := s.Docs.ReconcileURLs(ctx, created.ID, in.Documents, nil)
	if len(urls) > 0 {
		if err := repo.UpdatePrestation(ctx, s.DB, created.ID, map[string]any{"document_urls": urls}); err != nil {
			uploadErrs = append(uploadErrs, UploadError{Document: "*", Err: err})
		} else {
			created.DocumentURLs = urls
		}
	}
	return created, uploadErrs, nil
}

//
// Lifecycle transitions
//

// Accept moves a prestation from "nouvelles" to "validees", minting its
// acceptance code for the current month and stamping the acting agent.
func (s *PrestationService) Accept(ctx context.Context, id, actor string) (*domain.Prestation, error) {
	tr := otel.Tracer("services/PrestationService")
	ctx, span := tr.Start(ctx, "Accept",
		trace.WithAttributes(attribute.String("prestation.id", id)),
	)
	defer span.End()

	if strings.TrimSpace(actor) == "" {
		return nil, &ValidationError{Field: "actor", Reason: "required"}
	}

	now := s.now()
	err := s.runAllocTx(ctx, numbering.ScopeAcceptance, func(tx *gorm.DB) error {
		p, err := repo.GetPrestation(ctx, tx, id)
		if err != nil {
			return notFoundOr(err)
		}
		if !domain.CanApply(domain.ActionAccept, p.Statut) {
			return &IllegalTransitionError{Numero: p.Numero, Current: p.Statut, Action: domain.ActionAccept}
		}
		code, err := s.Alloc.NextCode(ctx, tx, numbering.ScopeAcceptance, now)
		if err != nil {
			return err
		}
		span.SetAttributes(attribute.String("prestation.code", code))
		return repo.UpdatePrestation(ctx, tx, id, map[string]any{
			"code_prestation": code,
			"statut":          domain.StatusValidees,
			"accepted_by":     strings.TrimSpace(actor),
			"accepted_at":     now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Validate moves a prestation from "nouvelles" to "receptionnees", assigning
// it to a department with a priority. The department is mandatory and checked
// before any store mutation.
func (s *PrestationService) Validate(ctx context.Context, id, department string, priority domain.Priority, notes string) (*domain.Prestation, error) {
	if strings.TrimSpace(department) == "" {
		return nil, &ValidationError{Field: "department", Reason: "required"}
	}
	if priority == "" {
		priority = domain.PriorityNormale
	}
	if !domain.ValidPriority(priority) {
		return nil, &ValidationError{Field: "priorite", Reason: "unknown value"}
	}

	now := s.now()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.GetPrestation(ctx, tx, id)
		if err != nil {
			return notFoundOr(err)
		}
		if !domain.CanApply(domain.ActionValidate, p.Statut) {
			return &IllegalTransitionError{Numero: p.Numero, Current: p.Statut, Action: domain.ActionValidate}
		}
		return repo.UpdatePrestation(ctx, tx, id, map[string]any{
			"statut":              domain.StatusReceptionnees,
			"assigned_department": strings.TrimSpace(department),
			"priorite":            priority,
			"validation_notes":    notes,
			"validated_at":        now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Reject marks a prestation "refusees" with the stated reason.
func (s *PrestationService) Reject(ctx context.Context, id, reason string) (*domain.Prestation, error) {
	if strings.TrimSpace(reason) == "" {
		return nil, &ValidationError{Field: "raison_refus", Reason: "required"}
	}
	now := s.now()
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.GetPrestation(ctx, tx, id)
		if err != nil {
			return notFoundOr(err)
		}
		if !domain.CanApply(domain.ActionReject, p.Statut) {
			return &IllegalTransitionError{Numero: p.Numero, Current: p.Statut, Action: domain.ActionReject}
		}
		return repo.UpdatePrestation(ctx, tx, id, map[string]any{
			"statut":       domain.StatusRefusees,
			"raison_refus": strings.TrimSpace(reason),
			"date_refus":   now,
		})
	})
	if err != nil {
		return nil, err
	}
	return s.Get(ctx, id)
}

// Delete hard-removes a prestation. Legal only from the intake-side statuses
// (nouvelles, renvoyees, refusees); the freed code suffix becomes
// reclaimable by the allocator.
func (s *PrestationService) Delete(ctx context.Context, id string) error {
	return s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.GetPrestation(ctx, tx, id)
		if err != nil {
			return notFoundOr(err)
		}
		if !domain.CanApply(domain.ActionDelete, p.Statut) {
			return &IllegalTransitionError{Numero: p.Numero, Current: p.Statut, Action: domain.ActionDelete}
		}
		return repo.DeletePrestation(ctx, tx, id)
	})
}

//
// Edit
//

// UpdateInput carries a partial edit: nil pointers leave fields unchanged.
// Documents, when non-nil, replaces the full document set and re-runs
// reconciliation (clearing URLs of names whose digital membership was
// removed).
type UpdateInput struct {
	ClientNom        *string
	ClientType       *string
	ProcedureChoisie *string
	DepartmentID     *string
	Commune          *string
	LieuDit          *string
	Priorite         *domain.Priority
	Statut           *domain.Status
	Documents        *[]DocumentInput
}

// Update edits a prestation. Edits are legal from any non-terminal status
// and do not change statut unless the input names one explicitly, in which
// case the target must be reachable through the edit edges of the state
// machine.
func (s *PrestationService) Update(ctx context.Context, id string, in UpdateInput) (*domain.Prestation, []UploadError, error) {
	tr := otel.Tracer("services/PrestationService")
	ctx, span := tr.Start(ctx, "Update",
		trace.WithAttributes(attribute.String("prestation.id", id)),
	)
	defer span.End()

	if in.Priorite != nil && !domain.ValidPriority(*in.Priorite) {
		return nil, nil, &ValidationError{Field: "priorite", Reason: "unknown value"}
	}
	if in.Statut != nil && !domain.ValidStatus(*in.Statut) {
		return nil, nil, &ValidationError{Field: "statut", Reason: "unknown value"}
	}
	if in.Documents != nil {
		if err := validateDocuments(*in.Documents); err != nil {
			return nil, nil, err
		}
	}

	var (
		docsNow  []DocumentInput
		priorMap domain.URLMap
	)
	err := s.DB.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		p, err := repo.GetPrestation(ctx, tx, id)
		if err != nil {
			return notFoundOr(err)
		}
		if !domain.CanApply(domain.ActionEdit, p.Statut) {
			return &IllegalTransitionError{Numero: p.Numero, Current: p.Statut, Action: domain.ActionEdit}
		}
		if in.Statut != nil && !domain.CanEditTo(p.Statut, *in.Statut) {
			return &IllegalTransitionError{Numero: p.Numero, Current: p.Statut, Action: domain.ActionEdit, Target: *in.Statut}
		}

		fields := map[string]any{}
		setString := func(col string, v *string) {
			if v != nil {
				fields[col] = strings.TrimSpace(*v)
			}
		}
		setString("client_nom", in.ClientNom)
		setString("client_type", in.ClientType)
		setString("procedure_choisie", in.ProcedureChoisie)
		setString("department_id", in.DepartmentID)
		setString("commune", in.Commune)
		setString("lieu_dit", in.LieuDit)
		if in.Priorite != nil {
			fields["priorite"] = *in.Priorite
		}
		if in.Statut != nil && *in.Statut != p.Statut {
			fields["statut"] = *in.Statut
		}

		if in.Documents != nil {
			docsNow = *in.Documents
			priorMap = p.DocumentURLs
			physiques, numeriques := s.Docs.Partition(docsNow)
			fields["documents_physiques"] = physiques
			fields["documents_numeriques"] = numeriques
			// Names that stay digital keep their prior URLs until the
			// post-commit upload pass; removed names are cleared here.
			retained := domain.URLMap{}
			for _, name := range numeriques {
				if kept, ok := priorMap[name]; ok {
					retained[name] = kept
				}
			}
			fields["document_urls"] = retained
		}

		if len(fields) == 0 {
			return nil
		}
		return repo.UpdatePrestation(ctx, tx, id, fields)
	})
	if err != nil {
		return nil, nil, err
	}

	var uploadErrs []UploadError
	if docsNow != nil && hasPendingFiles(docsNow) {
		urls, errs := s.Docs.ReconcileURLs(ctx, id, docsNow, priorMap)
		uploadErrs = errs
		if err := repo.UpdatePrestation(ctx, s.DB, id, map[string]any{"document_urls": urls}); err != nil {
			uploadErrs = append(uploadErrs, UploadError{Document: "*", Err: err})
		}
	}

	p, err := s.Get(ctx, id)
	if err != nil {
		return nil, uploadErrs, err
	}
	return p, uploadErrs, nil
}

//
// Reads
//

// Get fetches one prestation or ErrPrestationNotFound.
func (s *PrestationService) Get(ctx context.Context, id string) (*domain.Prestation, error) {
	p, err := repo.GetPrestation(ctx, s.DB, id)
	if err != nil {
		return nil, notFoundOr(err)
	}
	return p, nil
}

// ListPage returns a filtered page of prestations plus the total count.
// Defaults are applied for invalid page/pageSize.
func (s *PrestationService) ListPage(ctx context.Context, f repo.ListFilter, page, pageSize int) ([]domain.Prestation, int64, error) {
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	total, err := repo.CountPrestations(ctx, s.DB, f)
	if err != nil {
		return nil, 0, err
	}
	if total == 0 {
		return []domain.Prestation{}, 0, nil
	}
	items, err := repo.ListPrestationsPage(ctx, s.DB, f, offset, pageSize)
	return items, total, err
}

// Stats returns the dashboard aggregates.
func (s *PrestationService) Stats(ctx context.Context) (*repo.PrestationStats, error) {
	return repo.GetPrestationStats(ctx, s.DB, s.now())
}

// notFoundOr maps the repo's not-found sentinel to the service-level error.
func notFoundOr(err error) error {
	if errors.Is(err, repo.ErrNotFound) || errors.Is(err, gorm.ErrRecordNotFound) {
		return ErrPrestationNotFound
	}
	return err
}
