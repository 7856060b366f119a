package reconciliation

import (
	"context"
	"fmt"
	"slices"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/tx"
	"stockledger/internal/domain/alert"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/stock"
	"stockledger/pkg/logger"
)

var tracer = otel.Tracer("stockledger/reconciliation")

// CountingRoles may declare a physical count.
var CountingRoles = []appctx.Role{appctx.RoleAdmin, appctx.RoleAppro, appctx.RoleProduction}

// Options tunes the workflow.
type Options struct {
	// Cooldown is the minimum gap between two counts of one product.
	Cooldown time.Duration
	// SuspiciousLookback and SuspiciousWindow bound the recurring-shrinkage check.
	SuspiciousLookback time.Duration
	SuspiciousWindow   int
	// DeclarationExpiry is how long a declaration may stay pending.
	DeclarationExpiry time.Duration
	Tolerances        map[Category]Tolerance
	TxTimeout         time.Duration
}

// DefaultOptions returns the production constants.
func DefaultOptions() Options {
	return Options{
		Cooldown:           4 * time.Hour,
		SuspiciousLookback: 30 * 24 * time.Hour,
		SuspiciousWindow:   3,
		DeclarationExpiry:  7 * 24 * time.Hour,
		Tolerances:         DefaultTolerances(),
		TxTimeout:          30 * time.Second,
	}
}

// Service is the reconciliation workflow.
type Service struct {
	repo      Repository
	ledger    *stock.Service
	products  ProductCatalog
	txManager tx.Manager
	alerts    alert.Sink
	recorder  *audit.Recorder
	opts      Options
}

// NewService creates the workflow. Zero option fields take their defaults.
func NewService(
	repo Repository,
	ledger *stock.Service,
	products ProductCatalog,
	txManager tx.Manager,
	alerts alert.Sink,
	recorder *audit.Recorder,
	opts Options,
) *Service {
	def := DefaultOptions()
	if opts.Cooldown <= 0 {
		opts.Cooldown = def.Cooldown
	}
	if opts.SuspiciousLookback <= 0 {
		opts.SuspiciousLookback = def.SuspiciousLookback
	}
	if opts.SuspiciousWindow <= 0 {
		opts.SuspiciousWindow = def.SuspiciousWindow
	}
	if opts.DeclarationExpiry <= 0 {
		opts.DeclarationExpiry = def.DeclarationExpiry
	}
	if opts.Tolerances == nil {
		opts.Tolerances = def.Tolerances
	}
	if opts.TxTimeout <= 0 {
		opts.TxTimeout = def.TxTimeout
	}
	return &Service{
		repo:      repo,
		ledger:    ledger,
		products:  products,
		txManager: txManager,
		alerts:    alerts,
		recorder:  recorder,
		opts:      opts,
	}
}

func (s *Service) txOptions() tx.Options {
	return tx.Serializable(s.opts.TxTimeout)
}

// Declare records a physical count, classifies the discrepancy and, when it
// is auto-approved, corrects the ledger in the same transaction.
func (s *Service) Declare(ctx context.Context, in DeclareInput, counter appctx.Actor) (*Analysis, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.declare", trace.WithAttributes(
		attribute.String("product.id", in.ProductID.String()),
	))
	defer span.End()

	if !counter.Is(CountingRoles...) {
		return nil, apperror.NewRoleNotAllowed(string(counter.Role), roleNames(CountingRoles))
	}
	if err := apperror.ValidateStruct(in); err != nil {
		return nil, err
	}

	var (
		d   *Declaration
		adj *stock.AppendResult
	)
	err := s.txManager.RunInTransactionWithOptions(ctx, s.txOptions(), func(ctx context.Context) error {
		d, adj = nil, nil
		now := s.ledger.Now()

		last, err := s.repo.LatestCounted(ctx, in.ProductClass, in.ProductID, now.Add(-s.opts.Cooldown))
		if err != nil {
			return fmt.Errorf("check cooldown: %w", err)
		}
		if last != nil {
			return apperror.NewBusinessRule(apperror.CodeInventoryCooldown,
				fmt.Sprintf("Product was counted less than %s ago", s.opts.Cooldown)).
				WithDetail("last_declaration_id", last.ID).
				WithDetail("last_counted_at", last.CountedAt)
		}

		info, err := s.products.Lookup(ctx, in.ProductClass, in.ProductID)
		if err != nil {
			return err
		}
		theoretical, err := s.ledger.CalculateStock(ctx, in.ProductClass, in.ProductID)
		if err != nil {
			return err
		}

		category := CategoryOf(in.ProductClass, info.IsPerishable)
		a := Assess(theoretical, in.DeclaredQuantity, info.UnitCost, s.opts.Tolerances[category])

		suspicious := false
		if a.Difference < 0 {
			recent, err := s.repo.RecentByCounter(ctx, in.ProductClass, in.ProductID, counter.ID,
				now.Add(-s.opts.SuspiciousLookback),
				[]Status{StatusAutoApproved, StatusApproved},
				s.opts.SuspiciousWindow)
			if err != nil {
				return fmt.Errorf("load counter history: %w", err)
			}
			suspicious = IsSuspicious(a.Difference, recent, s.opts.SuspiciousWindow)
		}

		d = &Declaration{
			ID:                id.New(),
			ProductClass:      in.ProductClass,
			ProductID:         in.ProductID,
			TheoreticalStock:  theoretical,
			DeclaredQuantity:  in.DeclaredQuantity,
			Difference:        a.Difference,
			DifferencePct:     a.DifferencePct,
			DifferenceValue:   a.DifferenceValue,
			Category:          category,
			RiskLevel:         a.Risk,
			Status:            StatusDeclared,
			RequiresEvidence:  a.RequiresEvidence,
			SuspiciousPattern: suspicious,
			Notes:             in.Notes,
			Evidence:          in.Evidence,
			CountedBy:         counter.ID,
			CountedByRole:     string(counter.Role),
			CountedAt:         now,
		}
		if d.Evidence == nil {
			d.Evidence = []string{}
		}

		final := a.Status
		if suspicious && final == StatusAutoApproved {
			final = StatusPendingValidation
		}
		if err := d.transition(final, now); err != nil {
			return err
		}

		if d.Status == StatusAutoApproved {
			if adj, err = s.applyAdjustment(ctx, d, appctx.SystemActor("reconciliation"), now); err != nil {
				return err
			}
		}
		if err := s.repo.Create(ctx, d); err != nil {
			return fmt.Errorf("create declaration: %w", err)
		}

		if d.RiskLevel == RiskHigh || d.RiskLevel == RiskCritical || d.SuspiciousPattern {
			if err := s.alerts.Raise(ctx, discrepancyAlert(d)); err != nil {
				return fmt.Errorf("raise alert: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		span.RecordError(err)
		return nil, err
	}

	severity := audit.SeverityInfo
	if d.RiskLevel == RiskCritical {
		severity = audit.SeverityCritical
	}
	s.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionInventoryDeclared,
		EntityType: "inventory_declaration",
		EntityID:   d.ID.String(),
		Severity:   severity,
		Before:     map[string]any{"theoreticalStock": d.TheoreticalStock},
		After:      map[string]any{"declaredQuantity": d.DeclaredQuantity},
		Metadata: map[string]any{
			"productClass":      d.ProductClass,
			"productId":         d.ProductID,
			"differencePct":     d.DifferencePct.String(),
			"riskLevel":         d.RiskLevel,
			"status":            d.Status,
			"suspiciousPattern": d.SuspiciousPattern,
			"autoApproved":      d.Status == StatusAutoApproved,
		},
	}, counter))
	s.afterAdjustment(ctx, d, adj, appctx.SystemActor("reconciliation"))

	logger.Info(ctx, "inventory declared",
		"declaration_id", d.ID,
		"product_id", d.ProductID,
		"difference", d.Difference,
		"risk_level", d.RiskLevel,
		"status", d.Status,
	)

	return &Analysis{
		DeclarationID:            d.ID,
		TheoreticalStock:         d.TheoreticalStock,
		DeclaredQuantity:         d.DeclaredQuantity,
		Difference:               d.Difference,
		DifferencePct:            d.DifferencePct,
		DifferenceValue:          d.DifferenceValue,
		RiskLevel:                d.RiskLevel,
		Status:                   d.Status,
		RequiresValidation:       d.Status != StatusAutoApproved,
		RequiresDoubleValidation: d.Status == StatusPendingDoubleValidation,
		RequiresEvidence:         d.RequiresEvidence && len(d.Evidence) == 0,
		SuspiciousPattern:        d.SuspiciousPattern,
		MovementID:               d.MovementID,
	}, nil
}

// Validate signs a pending declaration. A PENDING_DOUBLE_VALIDATION declaration
// needs two distinct validators; the ledger is corrected on the last signature only.
func (s *Service) Validate(ctx context.Context, declarationID id.ID, reason string, validator appctx.Actor) (*ValidationResult, error) {
	ctx, span := tracer.Start(ctx, "reconciliation.validate")
	defer span.End()

	if !validator.Is(appctx.RoleAdmin) {
		return nil, apperror.NewAdminOnly("validate inventory declarations")
	}
	if reason == "" {
		return nil, apperror.NewValidation("approval reason is required").WithDetail("field", "reason")
	}

	var (
		d          *Declaration
		adj        *stock.AppendResult
		firstLeg   bool
		selfSigned *Declaration
	)
	err := s.txManager.RunInTransactionWithOptions(ctx, s.txOptions(), func(ctx context.Context) error {
		adj, firstLeg, selfSigned = nil, false, nil
		var err error
		if d, err = s.repo.GetForUpdate(ctx, declarationID); err != nil {
			return err
		}

		if d.CountedBy == validator.ID {
			selfSigned = d
			return apperror.NewForbidden(apperror.CodeSelfValidationForbidden,
				"The validator cannot be the person who counted").
				WithDetail("declaration_id", d.ID)
		}
		if !d.Status.IsPending() {
			return invalidStatus(d)
		}
		if d.RequiresEvidence && len(d.Evidence) == 0 {
			return apperror.NewBusinessRule(apperror.CodeEvidenceRequired,
				"Evidence must be attached before this declaration can be approved").
				WithDetail("declaration_id", d.ID).
				WithDetail("risk_level", string(d.RiskLevel))
		}

		now := s.ledger.Now()
		if d.Status == StatusPendingDoubleValidation {
			if err := d.transition(StatusPendingValidation, now); err != nil {
				return err
			}
			d.FirstValidatorID = &validator.ID
			d.FirstValidatedAt = &now
			d.FirstValidationReason = &reason
			firstLeg = true
			return s.repo.Update(ctx, d)
		}

		if d.FirstValidatorID != nil && *d.FirstValidatorID == validator.ID {
			return apperror.NewForbidden(apperror.CodeSameValidatorForbidden,
				"The second validator must differ from the first").
				WithDetail("declaration_id", d.ID)
		}

		if err := d.transition(StatusApproved, now); err != nil {
			return err
		}
		d.ValidatedBy = &validator.ID
		d.ValidatedAt = &now
		d.ValidationReason = &reason
		if adj, err = s.applyAdjustment(ctx, d, validator, now); err != nil {
			return err
		}
		return s.repo.Update(ctx, d)
	})
	if err != nil {
		if selfSigned != nil {
			s.recordSelfValidation(ctx, selfSigned, validator)
		}
		span.RecordError(err)
		return nil, err
	}

	if firstLeg {
		s.recorder.Record(ctx, audit.WithActor(audit.Event{
			Action:     audit.ActionInventoryFirstSigned,
			EntityType: "inventory_declaration",
			EntityID:   d.ID.String(),
			Metadata: map[string]any{
				"approvalReason":           reason,
				"awaitingSecondValidation": true,
			},
		}, validator))
		logger.Info(ctx, "inventory first validation recorded", "declaration_id", d.ID)
		return &ValidationResult{Status: d.Status}, nil
	}

	severity := audit.SeverityInfo
	if d.RiskLevel == RiskCritical {
		severity = audit.SeverityCritical
	}
	s.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionInventoryValidated,
		EntityType: "inventory_declaration",
		EntityID:   d.ID.String(),
		Severity:   severity,
		Metadata: map[string]any{
			"approvalReason":      reason,
			"difference":          d.Difference,
			"differencePct":       d.DifferencePct.String(),
			"movementCreated":     adj != nil,
			"wasDoubleValidation": d.FirstValidatorID != nil,
		},
	}, validator))
	s.afterAdjustment(ctx, d, adj, validator)
	logger.Info(ctx, "inventory declaration approved",
		"declaration_id", d.ID,
		"difference", d.Difference,
		"movement_created", adj != nil,
	)

	return &ValidationResult{
		Status:          d.Status,
		MovementCreated: adj != nil,
		MovementID:      d.MovementID,
	}, nil
}

// Reject closes a pending declaration without touching the ledger.
func (s *Service) Reject(ctx context.Context, declarationID id.ID, reason string, actor appctx.Actor) error {
	if !actor.Is(appctx.RoleAdmin) {
		return apperror.NewAdminOnly("reject inventory declarations")
	}
	if reason == "" {
		return apperror.NewValidation("rejection reason is required").WithDetail("field", "reason")
	}

	var d *Declaration
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.repo.GetForUpdate(ctx, declarationID); err != nil {
			return err
		}
		now := s.ledger.Now()
		if err := d.transition(StatusRejected, now); err != nil {
			return err
		}
		d.RejectedBy = &actor.ID
		d.RejectedAt = &now
		d.RejectionReason = &reason
		return s.repo.Update(ctx, d)
	})
	if err != nil {
		return err
	}

	s.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionInventoryRejected,
		EntityType: "inventory_declaration",
		EntityID:   d.ID.String(),
		Severity:   audit.SeverityWarning,
		Metadata: map[string]any{
			"rejectionReason": reason,
			"difference":      d.Difference,
		},
	}, actor))
	logger.Info(ctx, "inventory declaration rejected", "declaration_id", d.ID)
	return nil
}

// AttachEvidence adds evidence references to a pending declaration.
// Only the counter or an ADMIN may attach.
func (s *Service) AttachEvidence(ctx context.Context, declarationID id.ID, refs []string, actor appctx.Actor) (*Declaration, error) {
	if len(refs) == 0 {
		return nil, apperror.NewValidation("at least one evidence reference is required").WithDetail("field", "evidence")
	}

	var d *Declaration
	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		var err error
		if d, err = s.repo.GetForUpdate(ctx, declarationID); err != nil {
			return err
		}
		if d.CountedBy != actor.ID && !actor.Is(appctx.RoleAdmin) {
			return apperror.NewAdminOnly("attach evidence to another counter's declaration")
		}
		if !d.Status.IsPending() {
			return invalidStatus(d)
		}
		for _, ref := range refs {
			if ref != "" && !slices.Contains(d.Evidence, ref) {
				d.Evidence = append(d.Evidence, ref)
			}
		}
		d.UpdatedAt = s.ledger.Now()
		return s.repo.Update(ctx, d)
	})
	if err != nil {
		return nil, err
	}
	return d, nil
}

// ExpireStale moves declarations pending for longer than DeclarationExpiry to EXPIRED.
func (s *Service) ExpireStale(ctx context.Context, asOf time.Time) (int, error) {
	cutoff := asOf.Add(-s.opts.DeclarationExpiry)
	var expired []Declaration

	err := s.txManager.RunInTransaction(ctx, func(ctx context.Context) error {
		expired = nil
		stale, err := s.repo.ListPendingBefore(ctx, cutoff)
		if err != nil {
			return fmt.Errorf("list stale declarations: %w", err)
		}
		now := s.ledger.Now()
		for i := range stale {
			d, err := s.repo.GetForUpdate(ctx, stale[i].ID)
			if err != nil {
				return err
			}
			if !d.Status.IsPending() {
				continue
			}
			if err := d.transition(StatusExpired, now); err != nil {
				return err
			}
			if err := s.repo.Update(ctx, d); err != nil {
				return err
			}
			expired = append(expired, *d)
		}
		return nil
	})
	if err != nil {
		return 0, err
	}

	system := appctx.SystemActor("reconciliation-expiry")
	for _, d := range expired {
		s.recorder.Record(ctx, audit.WithActor(audit.Event{
			Action:     audit.ActionInventoryExpired,
			EntityType: "inventory_declaration",
			EntityID:   d.ID.String(),
			Severity:   audit.SeverityWarning,
			Metadata:   map[string]any{"countedAt": d.CountedAt, "riskLevel": d.RiskLevel},
		}, system))
	}
	if len(expired) > 0 {
		logger.Info(ctx, "stale inventory declarations expired", "count", len(expired))
	}
	return len(expired), nil
}

// Get returns one declaration.
func (s *Service) Get(ctx context.Context, declarationID id.ID) (*Declaration, error) {
	return s.repo.Get(ctx, declarationID)
}

// PendingValidations lists declarations awaiting a validator, highest risk first.
func (s *Service) PendingValidations(ctx context.Context) ([]Declaration, error) {
	return s.repo.ListPending(ctx)
}

// History lists a product's declarations, newest first.
func (s *Service) History(ctx context.Context, class catalog.Class, productID id.ID, limit int) ([]Declaration, error) {
	if limit <= 0 {
		limit = 20
	}
	if limit > 100 {
		limit = 100
	}
	return s.repo.ListByProduct(ctx, class, productID, limit)
}

func (s *Service) recordSelfValidation(ctx context.Context, d *Declaration, validator appctx.Actor) {
	logger.Warn(ctx, "self-validation attempt blocked",
		"declaration_id", d.ID,
		"validator_id", validator.ID,
	)
	s.recorder.Record(ctx, audit.WithActor(audit.Event{
		Action:     audit.ActionSelfValidation,
		EntityType: "inventory_declaration",
		EntityID:   d.ID.String(),
		Severity:   audit.SeveritySecurity,
		Metadata: map[string]any{
			"reason":    "SELF_VALIDATION_ATTEMPT",
			"countedBy": d.CountedBy,
		},
	}, validator))
}

func discrepancyAlert(d *Declaration) alert.Alert {
	typ := alert.TypeHighInventoryDiscrepancy
	title := "High inventory discrepancy"
	if d.SuspiciousPattern {
		typ = alert.TypeSuspiciousInventoryPattern
		title = "Recurring negative inventory discrepancy"
	}
	severity := alert.SeverityWarning
	if d.RiskLevel == RiskCritical {
		severity = alert.SeverityCritical
	}
	return alert.New(typ, severity, title,
		fmt.Sprintf("Counted %d against %d theoretical (%s%%)", d.DeclaredQuantity, d.TheoreticalStock, d.DifferencePct.StringFixed(2)),
	).For("inventory_declaration", d.ID).With(map[string]any{
		"productClass":    d.ProductClass,
		"productId":       d.ProductID,
		"difference":      d.Difference,
		"differenceValue": d.DifferenceValue.StringFixed(2),
		"riskLevel":       d.RiskLevel,
		"countedBy":       d.CountedBy,
	})
}

func invalidStatus(d *Declaration) error {
	return apperror.NewInvalidStatus("inventory_declaration", string(d.Status)).
		WithDetail("declaration_id", d.ID)
}

func roleNames(roles []appctx.Role) []string {
	names := make([]string, len(roles))
	for i, r := range roles {
		names[i] = string(r)
	}
	return names
}
