package reconciliation

import (
	"github.com/shopspring/decimal"

	"stockledger/internal/core/types"
)

// Tolerance is one category's band. Percentages are absolute differences
// relative to theoretical stock; CriticalValue is in currency units.
type Tolerance struct {
	AutoApprovePct      decimal.Decimal
	SingleValidationPct decimal.Decimal
	CriticalValue       decimal.Decimal
}

var criticalValue = decimal.NewFromInt(50_000)

// DefaultTolerances are the production bands.
func DefaultTolerances() map[Category]Tolerance {
	return map[Category]Tolerance{
		CategoryPerishableRawMaterial: {
			AutoApprovePct:      decimal.NewFromInt(2),
			SingleValidationPct: decimal.NewFromInt(5),
			CriticalValue:       criticalValue,
		},
		CategoryNonPerishableRawMaterial: {
			AutoApprovePct:      decimal.NewFromInt(3),
			SingleValidationPct: decimal.NewFromInt(8),
			CriticalValue:       criticalValue,
		},
		CategoryFinishedGood: {
			AutoApprovePct:      decimal.NewFromInt(1),
			SingleValidationPct: decimal.NewFromInt(3),
			CriticalValue:       criticalValue,
		},
	}
}

// Assessment is the computed side of a declaration.
type Assessment struct {
	Difference       types.Quantity
	DifferencePct    decimal.Decimal
	DifferenceValue  decimal.Decimal
	Risk             RiskLevel
	Status           Status
	RequiresEvidence bool
}

// Assess computes the difference and classifies it:
//
//	value > critical or pct > 2 x single  -> CRITICAL, double validation, evidence
//	pct > single                          -> HIGH, validation, evidence
//	pct > auto                            -> MEDIUM, validation
//	otherwise                             -> LOW, auto-approved
func Assess(theoretical, declared types.Quantity, unitCost decimal.Decimal, tol Tolerance) Assessment {
	diff := declared - theoretical
	// Bands are checked on the exact ratio; only the stored value is rounded.
	pct := types.ExactPercentOf(diff, theoretical)
	a := Assessment{
		Difference:      diff,
		DifferencePct:   pct.Round(2),
		DifferenceValue: diff.Abs().Decimal().Mul(unitCost),
	}

	switch {
	case a.DifferenceValue.GreaterThan(tol.CriticalValue) ||
		pct.GreaterThan(tol.SingleValidationPct.Mul(decimal.NewFromInt(2))):
		a.Risk, a.Status, a.RequiresEvidence = RiskCritical, StatusPendingDoubleValidation, true
	case pct.GreaterThan(tol.SingleValidationPct):
		a.Risk, a.Status, a.RequiresEvidence = RiskHigh, StatusPendingValidation, true
	case pct.GreaterThan(tol.AutoApprovePct):
		a.Risk, a.Status = RiskMedium, StatusPendingValidation
	default:
		a.Risk, a.Status = RiskLow, StatusAutoApproved
	}
	return a
}

// IsSuspicious reports recurring shrinkage: the new difference is negative and
// the counter's recent approved declarations (at least window-1 of them) were
// all negative too.
func IsSuspicious(difference types.Quantity, recent []Declaration, window int) bool {
	if difference >= 0 || len(recent) < window-1 || len(recent) == 0 {
		return false
	}
	for _, d := range recent {
		if d.Difference >= 0 {
			return false
		}
	}
	return true
}
