package reconciliation_test

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/alert"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/domain/fifo"
	"stockledger/internal/domain/reconciliation"
	"stockledger/internal/domain/stock"
	"stockledger/internal/testutil"
)

// stocked creates a perishable raw material with 1000 units at unit cost 1.
func stocked(env *testutil.TestEnv, code string) *catalog.Product {
	mp := env.RawMaterial(code, true)
	env.Receive(mp.ID, testutil.LotSpec{Quantity: 1000, UnitCost: "1.00"})
	return mp
}

func declare(env *testutil.TestEnv, p *catalog.Product, qty types.Quantity, counter appctx.Actor) (*reconciliation.Analysis, error) {
	return env.Reconciliation.Declare(env.Ctx, reconciliation.DeclareInput{
		ProductClass:     p.Class,
		ProductID:        p.ID,
		DeclaredQuantity: qty,
	}, counter)
}

func TestDeclare_AutoApproved(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "FLOUR")

	res, err := declare(env, mp, 995, testutil.Appro)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusAutoApproved, res.Status)
	assert.Equal(t, reconciliation.RiskLow, res.RiskLevel)
	assert.Equal(t, types.Quantity(-5), res.Difference)
	assert.False(t, res.RequiresValidation)
	require.NotNil(t, res.MovementID)

	assert.Equal(t, types.Quantity(995), env.Stock(catalog.ClassRawMaterial, mp.ID))
	moves, err := env.Ledger.Movements(env.Ctx, stock.MovementFilter{ProductID: &mp.ID, Origin: stock.OriginInventory})
	require.NoError(t, err)
	require.Len(t, moves, 1)
	assert.Equal(t, stock.DirectionOut, moves[0].Direction)
	assert.Equal(t, types.Quantity(5), moves[0].Quantity)
	assert.Equal(t, string(appctx.RoleSystem), moves[0].ActorRole)

	p, err := env.Catalog.Get(env.Ctx, mp.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastPhysicalStock)
	assert.Equal(t, types.Quantity(995), *p.LastPhysicalStock)

	assert.Contains(t, env.Audit.Actions(), audit.ActionInventoryDeclared)
	assert.Empty(t, env.Alerts.Alerts())
}

func TestDeclare_ExactCountWritesNoMovement(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "SALT")

	res, err := declare(env, mp, 1000, testutil.Production)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusAutoApproved, res.Status)
	assert.Nil(t, res.MovementID)

	p, err := env.Catalog.Get(env.Ctx, mp.ID)
	require.NoError(t, err)
	require.NotNil(t, p.LastPhysicalStock)
	assert.Equal(t, types.Quantity(1000), *p.LastPhysicalStock)
}

func TestDeclare_Guards(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "RICE")

	_, err := declare(env, mp, 990, testutil.Commercial)
	assert.True(t, apperror.HasCode(err, apperror.CodeRoleNotAllowed))

	_, err = declare(env, mp, -1, testutil.Appro)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	pf := env.FinishedGood("PIE", "4")
	_, err = env.Reconciliation.Declare(env.Ctx, reconciliation.DeclareInput{
		ProductClass: catalog.ClassRawMaterial, ProductID: pf.ID, DeclaredQuantity: 1,
	}, testutil.Appro)
	assert.True(t, apperror.IsNotFound(err))
}

func TestDeclare_Cooldown(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "OATS")

	_, err := declare(env, mp, 1000, testutil.Appro)
	require.NoError(t, err)

	_, err = declare(env, mp, 1000, testutil.Production)
	require.Error(t, err)
	appErr, ok := apperror.AsAppError(err)
	require.True(t, ok)
	assert.Equal(t, apperror.CodeInventoryCooldown, appErr.Code)
	assert.Contains(t, appErr.Details, "last_counted_at")

	env.Clock.Advance(4*time.Hour + time.Minute)
	_, err = declare(env, mp, 1000, testutil.Production)
	assert.NoError(t, err)
}

func TestDeclare_RejectedCountDoesNotStartCooldown(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "CORN")

	res, err := declare(env, mp, 970, testutil.Appro)
	require.NoError(t, err)
	require.Equal(t, reconciliation.StatusPendingValidation, res.Status)

	assert.True(t, apperror.HasCode(env.Reconciliation.Reject(env.Ctx, res.DeclarationID, "", testutil.Admin), apperror.CodeValidation))
	assert.True(t, apperror.HasCode(env.Reconciliation.Reject(env.Ctx, res.DeclarationID, "miscount", testutil.Appro), apperror.CodeAdminOnly))
	require.NoError(t, env.Reconciliation.Reject(env.Ctx, res.DeclarationID, "miscount", testutil.Admin))

	d, err := env.Reconciliation.Get(env.Ctx, res.DeclarationID)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusRejected, d.Status)
	assert.Equal(t, types.Quantity(1000), env.Stock(catalog.ClassRawMaterial, mp.ID))

	_, err = declare(env, mp, 1000, testutil.Appro)
	assert.NoError(t, err)
}

func TestValidate_SingleValidation(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "MILK")

	res, err := declare(env, mp, 970, testutil.Production)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.RiskMedium, res.RiskLevel)
	assert.True(t, res.RequiresValidation)
	assert.Nil(t, res.MovementID)
	assert.Equal(t, types.Quantity(1000), env.Stock(catalog.ClassRawMaterial, mp.ID))

	_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "ok", testutil.Appro)
	assert.True(t, apperror.HasCode(err, apperror.CodeAdminOnly))
	_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "", testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeValidation))

	v, err := env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "recount confirmed", testutil.Admin)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusApproved, v.Status)
	assert.True(t, v.MovementCreated)
	assert.Equal(t, types.Quantity(970), env.Stock(catalog.ClassRawMaterial, mp.ID))

	d, err := env.Reconciliation.Get(env.Ctx, res.DeclarationID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Admin.ID, *d.ValidatedBy)
	assert.Equal(t, v.MovementID, d.MovementID)

	_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "again", testutil.Admin2)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidStatus))
}

func TestValidate_DoubleValidation(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "BUTTER")

	res, err := declare(env, mp, 600, testutil.Production)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.RiskCritical, res.RiskLevel)
	assert.Equal(t, reconciliation.StatusPendingDoubleValidation, res.Status)
	assert.True(t, res.RequiresDoubleValidation)
	assert.True(t, res.RequiresEvidence)

	alerts := env.Alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeHighInventoryDiscrepancy, alerts[0].Type)
	assert.Equal(t, alert.SeverityCritical, alerts[0].Severity)

	_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "looks right", testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeEvidenceRequired))

	_, err = env.Reconciliation.AttachEvidence(env.Ctx, res.DeclarationID, []string{"photo-1.jpg"}, testutil.Appro)
	assert.True(t, apperror.HasCode(err, apperror.CodeAdminOnly))
	d, err := env.Reconciliation.AttachEvidence(env.Ctx, res.DeclarationID, []string{"photo-1.jpg", "photo-1.jpg"}, testutil.Production)
	require.NoError(t, err)
	assert.Equal(t, []string{"photo-1.jpg"}, d.Evidence)

	v, err := env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "first signature", testutil.Admin)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusPendingValidation, v.Status)
	assert.False(t, v.MovementCreated)
	assert.Equal(t, types.Quantity(1000), env.Stock(catalog.ClassRawMaterial, mp.ID), "no correction before the second signature")

	_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "second signature", testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeSameValidatorForbidden))

	v, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "second signature", testutil.Admin2)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusApproved, v.Status)
	assert.True(t, v.MovementCreated)
	assert.Equal(t, types.Quantity(600), env.Stock(catalog.ClassRawMaterial, mp.ID))

	d, err = env.Reconciliation.Get(env.Ctx, res.DeclarationID)
	require.NoError(t, err)
	assert.Equal(t, testutil.Admin.ID, *d.FirstValidatorID)
	assert.Equal(t, testutil.Admin2.ID, *d.ValidatedBy)

	assert.Contains(t, env.Audit.Actions(), audit.ActionInventoryFirstSigned)
	assert.Contains(t, env.Audit.Actions(), audit.ActionInventoryValidated)
}

func TestValidate_SelfValidationForbidden(t *testing.T) {
	tests := []struct {
		name     string
		declared types.Quantity
	}{
		{"auto-approved", 995},
		{"medium", 970},
		{"high", 940},
		{"critical", 600},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			env := testutil.New(t)
			mp := stocked(env, "EGGS")

			res, err := declare(env, mp, tt.declared, testutil.Admin)
			require.NoError(t, err)
			if res.RequiresEvidence {
				_, err = env.Reconciliation.AttachEvidence(env.Ctx, res.DeclarationID, []string{"sheet.pdf"}, testutil.Admin)
				require.NoError(t, err)
			}
			stockBefore := env.Stock(catalog.ClassRawMaterial, mp.ID)

			_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "mine", testutil.Admin)
			assert.True(t, apperror.HasCode(err, apperror.CodeSelfValidationForbidden), "got %v", err)

			d, err := env.Reconciliation.Get(env.Ctx, res.DeclarationID)
			require.NoError(t, err)
			assert.Equal(t, res.Status, d.Status)
			assert.Equal(t, stockBefore, env.Stock(catalog.ClassRawMaterial, mp.ID))

			var security *audit.Event
			for _, ev := range env.Audit.Events() {
				if ev.Action == audit.ActionSelfValidation {
					security = &ev
				}
			}
			require.NotNil(t, security)
			assert.Equal(t, audit.SeveritySecurity, security.Severity)
			assert.Equal(t, res.DeclarationID.String(), security.EntityID)
		})
	}
}

func TestValidate_StockMovedSinceCount(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "HONEY")

	res, err := declare(env, mp, 940, testutil.Appro)
	require.NoError(t, err)
	require.Equal(t, reconciliation.RiskHigh, res.RiskLevel)
	_, err = env.Reconciliation.AttachEvidence(env.Ctx, res.DeclarationID, []string{"count-sheet"}, testutil.Appro)
	require.NoError(t, err)

	_, err = env.FIFO.Consume(env.Ctx, fifoInput(mp, 950), testutil.Production)
	require.NoError(t, err)

	_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "approve", testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeInsufficientStock))

	d, err := env.Reconciliation.Get(env.Ctx, res.DeclarationID)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusPendingValidation, d.Status)
}

func TestDeclare_SuspiciousPattern(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "COCOA")

	for _, qty := range []types.Quantity{995, 990} {
		res, err := declare(env, mp, qty, testutil.Appro)
		require.NoError(t, err)
		require.Equal(t, reconciliation.StatusAutoApproved, res.Status)
		env.Clock.Advance(5 * time.Hour)
	}

	res, err := declare(env, mp, 985, testutil.Appro)
	require.NoError(t, err)
	assert.True(t, res.SuspiciousPattern)
	assert.Equal(t, reconciliation.RiskLow, res.RiskLevel)
	assert.Equal(t, reconciliation.StatusPendingValidation, res.Status, "suspicious counts are never auto-approved")
	assert.Equal(t, types.Quantity(990), env.Stock(catalog.ClassRawMaterial, mp.ID))

	alerts := env.Alerts.Alerts()
	require.Len(t, alerts, 1)
	assert.Equal(t, alert.TypeSuspiciousInventoryPattern, alerts[0].Type)

	env.Clock.Advance(5 * time.Hour)
	other, err := declare(env, mp, 980, testutil.Production)
	require.NoError(t, err)
	assert.False(t, other.SuspiciousPattern, "history is per counter")
}

func TestExpireStale(t *testing.T) {
	env := testutil.New(t)
	mp := stocked(env, "YEAST")

	res, err := declare(env, mp, 970, testutil.Appro)
	require.NoError(t, err)

	n, err := env.Reconciliation.ExpireStale(env.Ctx, testutil.Start.Add(6*24*time.Hour))
	require.NoError(t, err)
	assert.Zero(t, n)

	n, err = env.Reconciliation.ExpireStale(env.Ctx, testutil.Start.Add(8*24*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	d, err := env.Reconciliation.Get(env.Ctx, res.DeclarationID)
	require.NoError(t, err)
	assert.Equal(t, reconciliation.StatusExpired, d.Status)

	_, err = env.Reconciliation.Validate(env.Ctx, res.DeclarationID, "late", testutil.Admin)
	assert.True(t, apperror.HasCode(err, apperror.CodeInvalidStatus))
	assert.Contains(t, env.Audit.Actions(), audit.ActionInventoryExpired)
}

func TestPendingValidationsAndHistory(t *testing.T) {
	env := testutil.New(t)
	a := stocked(env, "A-MEDIUM")
	b := stocked(env, "B-CRITICAL")
	c := stocked(env, "C-AUTO")

	medium, err := declare(env, a, 970, testutil.Appro)
	require.NoError(t, err)
	env.Clock.Advance(time.Minute)
	critical, err := declare(env, b, 500, testutil.Appro)
	require.NoError(t, err)
	_, err = declare(env, c, 1000, testutil.Appro)
	require.NoError(t, err)

	pending, err := env.Reconciliation.PendingValidations(env.Ctx)
	require.NoError(t, err)
	require.Len(t, pending, 2)
	assert.Equal(t, critical.DeclarationID, pending[0].ID)
	assert.Equal(t, medium.DeclarationID, pending[1].ID)

	history, err := env.Reconciliation.History(env.Ctx, catalog.ClassRawMaterial, a.ID, 0)
	require.NoError(t, err)
	require.Len(t, history, 1)
	assert.Equal(t, medium.DeclarationID, history[0].ID)

	_, err = env.Reconciliation.Get(env.Ctx, a.ID)
	assert.True(t, apperror.HasCode(err, apperror.CodeDeclarationNotFound))
}

func fifoInput(p *catalog.Product, qty types.Quantity) fifo.ConsumeInput {
	return fifo.ConsumeInput{
		ProductClass: p.Class,
		ProductID:    p.ID,
		Quantity:     qty,
		Origin:       stock.OriginProductionOut,
	}
}
