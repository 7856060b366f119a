package memory

import (
	"cmp"
	"context"
	"slices"
	"time"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
)

var _ catalog.Repository = (*ProductRepo)(nil)

// ProductRepo implements catalog.Repository.
type ProductRepo struct{ s *Store }

func (r *ProductRepo) Create(ctx context.Context, p *catalog.Product) error {
	return r.s.view(ctx, func(st *state) error {
		for _, existing := range st.products {
			if existing.Class == p.Class && existing.Code == p.Code {
				return apperror.NewDuplicate("product", "products_class_code_key")
			}
		}
		st.products[p.ID] = *p
		return nil
	})
}

func (r *ProductRepo) Get(ctx context.Context, productID id.ID) (*catalog.Product, error) {
	var out *catalog.Product
	err := r.s.view(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return apperror.NewNotFound("product", productID)
		}
		out = &p
		return nil
	})
	return out, err
}

func (r *ProductRepo) Update(ctx context.Context, p *catalog.Product) error {
	return r.s.view(ctx, func(st *state) error {
		if _, ok := st.products[p.ID]; !ok {
			return apperror.NewNotFound("product", p.ID)
		}
		st.products[p.ID] = *p
		return nil
	})
}

func (r *ProductRepo) SetLastPhysicalStock(ctx context.Context, productID id.ID, qty types.Quantity, at time.Time) error {
	return r.s.view(ctx, func(st *state) error {
		p, ok := st.products[productID]
		if !ok {
			return apperror.NewNotFound("product", productID)
		}
		p.LastPhysicalStock = &qty
		p.LastPhysicalStockAt = &at
		p.UpdatedAt = at
		st.products[productID] = p
		return nil
	})
}

func (r *ProductRepo) List(ctx context.Context, filter catalog.ListFilter) ([]catalog.Product, error) {
	var out []catalog.Product
	err := r.s.view(ctx, func(st *state) error {
		for _, p := range st.products {
			if filter.Class != "" && p.Class != filter.Class {
				continue
			}
			if filter.ActiveOnly && !p.IsActive {
				continue
			}
			out = append(out, p)
		}
		return nil
	})
	slices.SortFunc(out, func(a, b catalog.Product) int { return cmp.Compare(a.Code, b.Code) })
	if filter.Limit > 0 && uint64(len(out)) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, err
}
