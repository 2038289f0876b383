package orders

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// SQLSTATE raised when a DELETE would orphan a referencing row.
const foreignKeyViolation = "23503"

const productColumns = `id, seller_id, name, description, category, price, stock, prep_time, created_at, updated_at`

func scanProduct(row pgx.Row) (Product, error) {
	var p Product
	err := row.Scan(&p.ID, &p.SellerID, &p.Name, &p.Description, &p.Category,
		&p.Price, &p.Stock, &p.PrepTime, &p.CreatedAt, &p.UpdatedAt)
	return p, err
}

func (t *pgTx) ProductsByIDs(ctx context.Context, ids []int64) (map[int64]Product, error) {
	rows, err := t.tx.Query(ctx, `SELECT `+productColumns+` FROM products WHERE id = ANY($1)`, ids)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64]Product, len(ids))
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, err
		}
		out[p.ID] = p
	}
	return out, rows.Err()
}

// DecrementStock is a single conditional UPDATE: the floor check and the
// subtraction happen atomically on the row.
func (t *pgTx) DecrementStock(ctx context.Context, productID int64, qty int) (Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock - $2, updated_at = now()
		WHERE id=$1 AND stock >= $2
		RETURNING `+productColumns, productID, qty))
	if err == nil {
		return p, nil
	}
	if !errors.Is(err, pgx.ErrNoRows) {
		return Product{}, err
	}
	var exists bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM products WHERE id=$1)`, productID).Scan(&exists); err != nil {
		return Product{}, err
	}
	if !exists {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return Product{}, ErrOutOfStock
}

func (t *pgTx) IncrementStock(ctx context.Context, productID int64, qty int) (Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `
		UPDATE products SET stock = stock + $2, updated_at = now()
		WHERE id=$1 RETURNING `+productColumns, productID, qty))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, productID)
	}
	return p, err
}

func (t *pgTx) InsertProduct(ctx context.Context, p *Product) error {
	return t.tx.QueryRow(ctx, `
		INSERT INTO products(seller_id, name, description, category, price, stock, prep_time, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		p.SellerID, p.Name, p.Description, p.Category, p.Price, p.Stock, p.PrepTime, p.CreatedAt, p.UpdatedAt,
	).Scan(&p.ID)
}

func (t *pgTx) LockProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(t.tx.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1 FOR UPDATE`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p, err
}

func (t *pgTx) UpdateProduct(ctx context.Context, p *Product) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE products SET name=$2, description=$3, category=$4, price=$5, stock=$6, prep_time=$7, updated_at=$8
		WHERE id=$1`,
		p.ID, p.Name, p.Description, p.Category, p.Price, p.Stock, p.PrepTime, p.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product %d", ErrNotFound, p.ID)
	}
	return nil
}

func (t *pgTx) DeleteProduct(ctx context.Context, id int64) error {
	var used bool
	if err := t.tx.QueryRow(ctx, `SELECT EXISTS(SELECT 1 FROM order_items WHERE product_id=$1)`, id).Scan(&used); err != nil {
		return err
	}
	if used {
		return fmt.Errorf("%w: product %d has orders", ErrInUse, id)
	}
	ct, err := t.tx.Exec(ctx, `DELETE FROM products WHERE id=$1`, id)
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == foreignKeyViolation {
		return fmt.Errorf("%w: product %d has orders", ErrInUse, id)
	}
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return nil
}

func (s *PGStore) GetProduct(ctx context.Context, id int64) (Product, error) {
	p, err := scanProduct(s.DB.QueryRow(ctx, `SELECT `+productColumns+` FROM products WHERE id=$1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("%w: product %d", ErrNotFound, id)
	}
	return p, err
}

func (s *PGStore) ListProducts(ctx context.Context, f ProductFilter) ([]Product, int, error) {
	f = f.Normalized()
	var (
		conds []string
		args  []any
	)
	if f.SellerID != 0 {
		args = append(args, f.SellerID)
		conds = append(conds, fmt.Sprintf("seller_id=$%d", len(args)))
	}
	if f.Category != "" {
		args = append(args, f.Category)
		conds = append(conds, fmt.Sprintf("category=$%d", len(args)))
	}
	if f.MinPrice > 0 {
		args = append(args, f.MinPrice)
		conds = append(conds, fmt.Sprintf("price >= $%d", len(args)))
	}
	if f.MaxPrice > 0 {
		args = append(args, f.MaxPrice)
		conds = append(conds, fmt.Sprintf("price <= $%d", len(args)))
	}
	if f.Search != "" {
		args = append(args, "%"+f.Search+"%")
		conds = append(conds, fmt.Sprintf("(name ILIKE $%d OR description ILIKE $%d)", len(args), len(args)))
	}
	where := ""
	if len(conds) > 0 {
		where = " WHERE " + strings.Join(conds, " AND ")
	}

	var total int
	if err := s.DB.QueryRow(ctx, `SELECT COUNT(*) FROM products`+where, args...).Scan(&total); err != nil {
		return nil, 0, err
	}

	page := append(args, f.Limit, f.Offset())
	rows, err := s.DB.Query(ctx,
		`SELECT `+productColumns+` FROM products`+where+
			fmt.Sprintf(` ORDER BY id DESC LIMIT $%d OFFSET $%d`, len(args)+1, len(args)+2), page...)
	if err != nil {
		return nil, 0, err
	}
	defer rows.Close()

	out := []Product{}
	for rows.Next() {
		p, err := scanProduct(rows)
		if err != nil {
			return nil, 0, err
		}
		out = append(out, p)
	}
	return out, total, rows.Err()
}
