package stock

import (
	"slices"

	"stockledger/internal/core/apperror"
	appctx "stockledger/internal/core/context"
	"stockledger/internal/domain/catalog"
)

type combination struct {
	class  catalog.Class
	origin Origin
}

var (
	inOnly  = []Direction{DirectionIn}
	outOnly = []Direction{DirectionOut}
	both    = []Direction{DirectionIn, DirectionOut}
)

// allowedDirections is the combination matrix. A missing key means the cause
// is forbidden for that product class.
var allowedDirections = map[combination][]Direction{
	{catalog.ClassRawMaterial, OriginReception}:        inOnly,
	{catalog.ClassRawMaterial, OriginProductionOut}:    outOnly,
	{catalog.ClassRawMaterial, OriginProductionCancel}: inOnly,
	{catalog.ClassRawMaterial, OriginInventory}:        both,
	{catalog.ClassRawMaterial, OriginLoss}:             outOnly,

	{catalog.ClassFinishedGood, OriginProductionIn}:   inOnly,
	{catalog.ClassFinishedGood, OriginSale}:           outOnly,
	{catalog.ClassFinishedGood, OriginInventory}:      both,
	{catalog.ClassFinishedGood, OriginCustomerReturn}: inOnly,
	{catalog.ClassFinishedGood, OriginLoss}:           outOnly,
}

// allowedRoles maps each cause to the roles that may originate it.
// SYSTEM only appears where automated steps write (reconciliation auto-approval).
var allowedRoles = map[Origin][]appctx.Role{
	OriginReception:        {appctx.RoleAdmin, appctx.RoleAppro},
	OriginProductionIn:     {appctx.RoleAdmin, appctx.RoleProduction},
	OriginProductionOut:    {appctx.RoleAdmin, appctx.RoleProduction},
	OriginProductionCancel: {appctx.RoleAdmin, appctx.RoleProduction},
	OriginSale:             {appctx.RoleAdmin, appctx.RoleCommercial},
	OriginInventory:        {appctx.RoleAdmin, appctx.RoleSystem},
	OriginCustomerReturn:   {appctx.RoleAdmin, appctx.RoleCommercial},
	OriginLoss:             {appctx.RoleAdmin},
}

// AllowedDirections returns the permitted directions for (class, origin); nil when forbidden.
func AllowedDirections(class catalog.Class, origin Origin) []Direction {
	return allowedDirections[combination{class, origin}]
}

// AllowedRoles returns the roles that may originate origin.
func AllowedRoles(origin Origin) []appctx.Role {
	return allowedRoles[origin]
}

// ValidateCombination fails with INVALID_MOVEMENT_COMBINATION when the cause is not
// permitted for the class, or is permitted in the other direction only.
func ValidateCombination(class catalog.Class, origin Origin, direction Direction) error {
	if !slices.Contains(AllowedDirections(class, origin), direction) {
		return apperror.NewInvalidCombination(string(class), string(origin), string(direction))
	}
	return nil
}

// ValidateRole fails with ROLE_NOT_AUTHORIZED when role may not originate the cause.
func ValidateRole(origin Origin, role appctx.Role) error {
	allowed := AllowedRoles(origin)
	if slices.Contains(allowed, role) {
		return nil
	}
	names := make([]string, len(allowed))
	for i, r := range allowed {
		names[i] = string(r)
	}
	return apperror.NewRoleNotAuthorized(string(origin), string(role), names)
}
