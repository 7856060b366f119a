package ledger_repo

import (
	"context"
	"fmt"
	"time"

	"github.com/Masterminds/squirrel"
	"github.com/georgysavva/scany/v2/pgxscan"

	"stockledger/internal/core/apperror"
	"stockledger/internal/core/id"
	"stockledger/internal/core/types"
	"stockledger/internal/domain/catalog"
	"stockledger/internal/infrastructure/storage/postgres"
)

var productColumns = postgres.ExtractDBColumns[catalog.Product]()

var _ catalog.Repository = (*ProductRepo)(nil)

// ProductRepo implements catalog.Repository.
type ProductRepo struct {
	baseRepo
}

// NewProductRepo creates a new product repository.
func NewProductRepo(txm *postgres.TxManager) *ProductRepo {
	return &ProductRepo{baseRepo: newBaseRepo(txm)}
}

func (r *ProductRepo) Create(ctx context.Context, p *catalog.Product) error {
	q := r.builder.Insert(productsTable).SetMap(postgres.StructToMap(p))
	if _, err := r.exec(ctx, q); err != nil {
		return fmt.Errorf("insert product: %w", err)
	}
	return nil
}

func (r *ProductRepo) Get(ctx context.Context, productID id.ID) (*catalog.Product, error) {
	q := r.builder.Select(productColumns...).
		From(productsTable).
		Where(squirrel.Eq{"id": productID})

	var p catalog.Product
	if err := r.getOne(ctx, &p, q); err != nil {
		if pgxscan.NotFound(err) {
			return nil, apperror.NewNotFound("product", productID)
		}
		return nil, fmt.Errorf("get product: %w", err)
	}
	return &p, nil
}

// Update writes everything except the (class, code) identity.
func (r *ProductRepo) Update(ctx context.Context, p *catalog.Product) error {
	fields := postgres.Without(postgres.StructToMap(p), "id", "class", "code", "created_at")

	n, err := r.exec(ctx, r.builder.Update(productsTable).
		SetMap(fields).
		Where(squirrel.Eq{"id": p.ID}))
	if err != nil {
		return fmt.Errorf("update product: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("product", p.ID)
	}
	return nil
}

func (r *ProductRepo) SetLastPhysicalStock(ctx context.Context, productID id.ID, qty types.Quantity, at time.Time) error {
	n, err := r.exec(ctx, r.builder.Update(productsTable).
		Set("last_physical_stock", qty).
		Set("last_physical_stock_at", at).
		Set("updated_at", at).
		Where(squirrel.Eq{"id": productID}))
	if err != nil {
		return fmt.Errorf("set last physical stock: %w", err)
	}
	if n == 0 {
		return apperror.NewNotFound("product", productID)
	}
	return nil
}

func (r *ProductRepo) List(ctx context.Context, f catalog.ListFilter) ([]catalog.Product, error) {
	q := r.builder.Select(productColumns...).
		From(productsTable).
		OrderBy("code", "class")
	if f.Class != "" {
		q = q.Where(squirrel.Eq{"class": f.Class})
	}
	if f.ActiveOnly {
		q = q.Where(squirrel.Eq{"is_active": true})
	}
	if f.Limit > 0 {
		q = q.Limit(f.Limit)
	}

	var products []catalog.Product
	if err := r.selectAll(ctx, &products, q); err != nil {
		return nil, fmt.Errorf("list products: %w", err)
	}
	return products, nil
}
