// Package reconciliation turns a physical count into a ledger correction
// through risk-tiered approval with anti-fraud checks.
package reconciliation

import (
	"slices"
	"time"

	"github.com/shopspring/decimal"

	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
)

// Status is the workflow state of a declaration.
type Status string

const (
	StatusDeclared                Status = "DECLARED"
	StatusAutoApproved            Status = "AUTO_APPROVED"
	StatusPendingValidation       Status = "PENDING_VALIDATION"
	StatusPendingDoubleValidation Status = "PENDING_DOUBLE_VALIDATION"
	StatusApproved                Status = "APPROVED"
	StatusRejected                Status = "REJECTED"
	StatusExpired                 Status = "EXPIRED"
)

var transitions = map[Status][]Status{
	StatusDeclared:                {StatusAutoApproved, StatusPendingValidation, StatusPendingDoubleValidation},
	StatusPendingDoubleValidation: {StatusPendingValidation, StatusRejected, StatusExpired},
	StatusPendingValidation:       {StatusApproved, StatusRejected, StatusExpired},
}

// CanTransitionTo reports whether the state machine allows s -> next.
func (s Status) CanTransitionTo(next Status) bool {
	return slices.Contains(transitions[s], next)
}

// IsPending reports whether the declaration awaits a validator.
func (s Status) IsPending() bool {
	return s == StatusPendingValidation || s == StatusPendingDoubleValidation
}

// IsTerminal reports whether no further transition exists.
func (s Status) IsTerminal() bool {
	return len(transitions[s]) == 0
}

// CountsForCooldown reports whether a declaration in this status blocks a re-count.
func (s Status) CountsForCooldown() bool {
	return s != StatusRejected && s != StatusExpired
}

// RiskLevel grades a discrepancy.
type RiskLevel string

const (
	RiskLow      RiskLevel = "LOW"
	RiskMedium   RiskLevel = "MEDIUM"
	RiskHigh     RiskLevel = "HIGH"
	RiskCritical RiskLevel = "CRITICAL"
)

// Rank orders risk levels, CRITICAL highest.
func (r RiskLevel) Rank() int {
	switch r {
	case RiskCritical:
		return 3
	case RiskHigh:
		return 2
	case RiskMedium:
		return 1
	default:
		return 0
	}
}

// Category selects the tolerance band.
type Category string

const (
	CategoryPerishableRawMaterial    Category = "MP_PERISHABLE"
	CategoryNonPerishableRawMaterial Category = "MP_NON_PERISHABLE"
	CategoryFinishedGood             Category = "PF"
)

// CategoryOf maps a product to its tolerance category.
func CategoryOf(class catalog.Class, perishable bool) Category {
	switch {
	case class == catalog.ClassFinishedGood:
		return CategoryFinishedGood
	case perishable:
		return CategoryPerishableRawMaterial
	default:
		return CategoryNonPerishableRawMaterial
	}
}

// Declaration is one physical count attempt and its approval trail.
// CountedBy never equals FirstValidatorID or ValidatedBy.
type Declaration struct {
	ID                    id.ID           `db:"id" json:"id"`
	ProductClass          catalog.Class   `db:"product_class" json:"productClass"`
	ProductID             id.ID           `db:"product_id" json:"productId"`
	TheoreticalStock      types.Quantity  `db:"theoretical_stock" json:"theoreticalStock"`
	DeclaredQuantity      types.Quantity  `db:"declared_quantity" json:"declaredQuantity"`
	Difference            types.Quantity  `db:"difference" json:"difference"`
	DifferencePct         decimal.Decimal `db:"difference_pct" json:"differencePct"`
	DifferenceValue       decimal.Decimal `db:"difference_value" json:"differenceValue"`
	Category              Category        `db:"category" json:"category"`
	RiskLevel             RiskLevel       `db:"risk_level" json:"riskLevel"`
	Status                Status          `db:"status" json:"status"`
	RequiresEvidence      bool            `db:"requires_evidence" json:"requiresEvidence"`
	SuspiciousPattern     bool            `db:"suspicious_pattern" json:"suspiciousPattern"`
	Notes                 *string         `db:"notes" json:"notes,omitempty"`
	Evidence              []string        `db:"evidence" json:"evidence"`
	CountedBy             string          `db:"counted_by" json:"countedBy"`
	CountedByRole         string          `db:"counted_by_role" json:"countedByRole"`
	CountedAt             time.Time       `db:"counted_at" json:"countedAt"`
	FirstValidatorID      *string         `db:"first_validator_id" json:"firstValidatorId,omitempty"`
	FirstValidatedAt      *time.Time      `db:"first_validated_at" json:"firstValidatedAt,omitempty"`
	FirstValidationReason *string         `db:"first_validation_reason" json:"firstValidationReason,omitempty"`
	ValidatedBy           *string         `db:"validated_by" json:"validatedBy,omitempty"`
	ValidatedAt           *time.Time      `db:"validated_at" json:"validatedAt,omitempty"`
	ValidationReason      *string         `db:"validation_reason" json:"validationReason,omitempty"`
	RejectedBy            *string         `db:"rejected_by" json:"rejectedBy,omitempty"`
	RejectedAt            *time.Time      `db:"rejected_at" json:"rejectedAt,omitempty"`
	RejectionReason       *string         `db:"rejection_reason" json:"rejectionReason,omitempty"`
	MovementID            *id.ID          `db:"movement_id" json:"movementId,omitempty"`
	UpdatedAt             time.Time       `db:"updated_at" json:"updatedAt"`
}

// AwaitingSecondSignature reports whether the first of two validators signed.
func (d *Declaration) AwaitingSecondSignature() bool {
	return d.Status == StatusPendingValidation && d.FirstValidatorID != nil
}

// transition moves the declaration or fails with INVALID_STATUS.
func (d *Declaration) transition(next Status, now time.Time) error {
	if !d.Status.CanTransitionTo(next) {
		return invalidStatus(d)
	}
	d.Status = next
	d.UpdatedAt = now
	return nil
}

// DeclareInput is a physical count.
type DeclareInput struct {
	ProductClass     catalog.Class  `json:"productClass" validate:"required,oneof=MP PF"`
	ProductID        id.ID          `json:"productId" validate:"required"`
	DeclaredQuantity types.Quantity `json:"declaredQuantity" validate:"gte=0"`
	Notes            *string        `json:"notes" validate:"omitempty,max=1000"`
	Evidence         []string       `json:"evidence" validate:"omitempty,dive,required,max=500"`
}

// Analysis is returned by Declare.
type Analysis struct {
	DeclarationID            id.ID           `json:"declarationId"`
	TheoreticalStock         types.Quantity  `json:"theoreticalStock"`
	DeclaredQuantity         types.Quantity  `json:"declaredQuantity"`
	Difference               types.Quantity  `json:"difference"`
	DifferencePct            decimal.Decimal `json:"differencePct"`
	DifferenceValue          decimal.Decimal `json:"differenceValue"`
	RiskLevel                RiskLevel       `json:"riskLevel"`
	Status                   Status          `json:"status"`
	RequiresValidation       bool            `json:"requiresValidation"`
	RequiresDoubleValidation bool            `json:"requiresDoubleValidation"`
	// RequiresEvidence is set when the tier demands evidence and none was attached yet.
	RequiresEvidence  bool   `json:"requiresEvidence"`
	SuspiciousPattern bool   `json:"suspiciousPattern"`
	MovementID        *id.ID `json:"movementId,omitempty"`
}

// ValidationResult is returned by Validate.
type ValidationResult struct {
	Status          Status `json:"status"`
	MovementCreated bool   `json:"movementCreated"`
	MovementID      *id.ID `json:"movementId,omitempty"`
}
