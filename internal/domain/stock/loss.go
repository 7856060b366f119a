package stock

import (
	"context"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/audit"
	"stockledger/internal/domain/catalog"
	"stockledger/pkg/logger"
)

// LossInput declares destroyed, damaged or missing stock.
type LossInput struct {
	ProductClass catalog.Class  `json:"productClass" validate:"required,oneof=MP PF"`
	ProductID    id.ID          `json:"productId" validate:"required"`
	Quantity     types.Quantity `json:"quantity"`
	// LotID optionally pins the loss to a lot; BLOCKED lots are accepted.
	LotID    *id.ID   `json:"lotId"`
	Reason   string   `json:"reason" validate:"required,max=500"`
	Evidence []string `json:"evidence" validate:"omitempty,dive,required"`
}

// DeclareLoss writes a LOSS OUT movement. ADMIN only.
func (s *Service) DeclareLoss(ctx context.Context, in LossInput, actor appctx.Actor) (*Movement, error) {
	if !actor.Is(appctx.RoleAdmin) {
		return nil, apperror.NewAdminOnly("declare losses")
	}
	if err := apperror.ValidateStruct(in); err != nil {
		return nil, err
	}

	mi := MovementInput{
		ProductClass: in.ProductClass,
		ProductID:    in.ProductID,
		Origin:       OriginLoss,
		Direction:    DirectionOut,
		Quantity:     in.Quantity,
		LotID:        in.LotID,
		Metadata: map[string]any{
			"reason":   in.Reason,
			"evidence": in.Evidence,
		},
	}
	if err := validateInput(mi, actor); err != nil {
		return nil, err
	}

	var res *AppendResult
	err := s.txManager.RunInTransactionWithOptions(ctx, s.TxOptions(), func(ctx context.Context) error {
		var err error
		res, err = s.Append(ctx, mi, actor)
		return err
	})
	if err != nil {
		return nil, err
	}

	s.Invalidate(ctx, in.ProductClass, in.ProductID)
	ev := MovementAudit(res, audit.SeverityWarning)
	ev.Action = audit.ActionLossDeclared
	ev.Metadata["reason"] = in.Reason
	ev.Metadata["evidence"] = in.Evidence
	s.recorder.Record(ctx, audit.WithActor(ev, actor))
	logger.Info(ctx, "loss declared",
		"movement_id", res.Movement.ID,
		"product_id", in.ProductID,
		"quantity", in.Quantity,
		"lot_id", in.LotID,
	)

	return res.Movement, nil
}
