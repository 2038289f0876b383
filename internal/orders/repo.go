package orders

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-canteen-orders/internal/outbox"
)

// querier is satisfied by both *pgxpool.Pool and pgx.Tx.
type querier interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PGStore struct{ DB *pgxpool.Pool }

type pgTx struct{ tx pgx.Tx }

func (s *PGStore) InTx(ctx context.Context, fn func(tx Tx) error) error {
	tx, err := s.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if err := fn(&pgTx{tx: tx}); err != nil {
		return err
	}
	return tx.Commit(ctx)
}

const orderColumns = `id, user_id, seller_id, order_type, status, total_amount,
	estimated_ready_at, payment_proof_url, created_at, updated_at`

func scanOrder(row pgx.Row) (Order, error) {
	var o Order
	err := row.Scan(&o.ID, &o.UserID, &o.SellerID, &o.OrderType, &o.Status, &o.TotalAmount,
		&o.EstimatedReadyAt, &o.PaymentProofURL, &o.CreatedAt, &o.UpdatedAt)
	return o, err
}

func getOrder(ctx context.Context, q querier, id int64, forUpdate bool) (Order, error) {
	sql := `SELECT ` + orderColumns + ` FROM orders WHERE id=$1`
	if forUpdate {
		sql += ` FOR UPDATE`
	}
	o, err := scanOrder(q.QueryRow(ctx, sql, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return Order{}, fmt.Errorf("%w: order %d", ErrNotFound, id)
	}
	if err != nil {
		return Order{}, err
	}
	items, err := loadItems(ctx, q, []int64{id})
	if err != nil {
		return Order{}, err
	}
	o.Items = items[id]
	return o, nil
}

func loadItems(ctx context.Context, q querier, orderIDs []int64) (map[int64][]OrderItem, error) {
	rows, err := q.Query(ctx, `
		SELECT id, order_id, product_id, product_name, quantity, price
		FROM order_items WHERE order_id = ANY($1) ORDER BY id`, orderIDs)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := make(map[int64][]OrderItem, len(orderIDs))
	for rows.Next() {
		var it OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.ProductName, &it.Quantity, &it.Price); err != nil {
			return nil, err
		}
		out[it.OrderID] = append(out[it.OrderID], it)
	}
	return out, rows.Err()
}

func (s *PGStore) GetOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, s.DB, id, false)
}

func (s *PGStore) ListOrdersByUser(ctx context.Context, userID int64) ([]Order, error) {
	return s.listOrders(ctx, `user_id=$1`, userID)
}

func (s *PGStore) ListOrdersBySeller(ctx context.Context, sellerID int64) ([]Order, error) {
	return s.listOrders(ctx, `seller_id=$1`, sellerID)
}

func (s *PGStore) listOrders(ctx context.Context, where string, arg any) ([]Order, error) {
	rows, err := s.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders WHERE `+where+` ORDER BY id DESC`, arg)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := []Order{}
	ids := []int64{}
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
		ids = append(ids, o.ID)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return out, nil
	}
	items, err := loadItems(ctx, s.DB, ids)
	if err != nil {
		return nil, err
	}
	for i := range out {
		out[i].Items = items[out[i].ID]
	}
	return out, nil
}

func (s *PGStore) SellerIDForUser(ctx context.Context, userID int64) (int64, error) {
	var id int64
	err := s.DB.QueryRow(ctx, `SELECT id FROM seller_profiles WHERE user_id=$1`, userID).Scan(&id)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, fmt.Errorf("%w: no seller profile for user %d", ErrNotFound, userID)
	}
	return id, err
}

func (s *PGStore) CompletedSales(ctx context.Context, from, to time.Time) ([]SellerSales, error) {
	rows, err := s.DB.Query(ctx, `
		SELECT seller_id, COUNT(*), COALESCE(SUM(total_amount), 0)
		FROM orders
		WHERE status=$1 AND created_at BETWEEN $2 AND $3
		GROUP BY seller_id ORDER BY seller_id`, StatusCompleted, from, to)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []SellerSales
	for rows.Next() {
		var s SellerSales
		if err := rows.Scan(&s.SellerID, &s.TotalOrders, &s.TotalRevenue); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

// ---- unit of work ----

// LockSellerQueue takes the row lock on the seller's queue record; concurrent
// creations for the same seller wait here until the holder commits.
func (t *pgTx) LockSellerQueue(ctx context.Context, sellerID int64) error {
	if _, err := t.tx.Exec(ctx, `
		INSERT INTO seller_queues(seller_id) VALUES ($1)
		ON CONFLICT (seller_id) DO NOTHING`, sellerID); err != nil {
		return err
	}
	var id int64
	return t.tx.QueryRow(ctx, `SELECT seller_id FROM seller_queues WHERE seller_id=$1 FOR UPDATE`, sellerID).Scan(&id)
}

func (t *pgTx) QueueTail(ctx context.Context, sellerID int64) (*time.Time, error) {
	terminal := make([]string, 0, len(TerminalStatuses))
	for _, s := range TerminalStatuses {
		terminal = append(terminal, string(s))
	}
	var tail *time.Time
	err := t.tx.QueryRow(ctx, `
		SELECT MAX(estimated_ready_at) FROM orders
		WHERE seller_id=$1 AND status <> ALL($2) AND estimated_ready_at IS NOT NULL`,
		sellerID, terminal).Scan(&tail)
	return tail, err
}

func (t *pgTx) InsertOrder(ctx context.Context, o *Order) error {
	err := t.tx.QueryRow(ctx, `
		INSERT INTO orders(user_id, seller_id, order_type, status, total_amount,
		                   estimated_ready_at, payment_proof_url, created_at, updated_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9) RETURNING id`,
		o.UserID, o.SellerID, o.OrderType, o.Status, o.TotalAmount,
		o.EstimatedReadyAt, o.PaymentProofURL, o.CreatedAt, o.UpdatedAt,
	).Scan(&o.ID)
	if err != nil {
		return err
	}
	for i := range o.Items {
		it := &o.Items[i]
		it.OrderID = o.ID
		if err := t.tx.QueryRow(ctx, `
			INSERT INTO order_items(order_id, product_id, product_name, quantity, price)
			VALUES ($1,$2,$3,$4,$5) RETURNING id`,
			o.ID, it.ProductID, it.ProductName, it.Quantity, it.Price,
		).Scan(&it.ID); err != nil {
			return err
		}
	}
	return nil
}

func (t *pgTx) LockOrder(ctx context.Context, id int64) (Order, error) {
	return getOrder(ctx, t.tx, id, true)
}

func (t *pgTx) UpdateOrder(ctx context.Context, o *Order) error {
	ct, err := t.tx.Exec(ctx, `
		UPDATE orders SET status=$2, payment_proof_url=$3, updated_at=$4 WHERE id=$1`,
		o.ID, o.Status, o.PaymentProofURL, o.UpdatedAt)
	if err != nil {
		return err
	}
	if ct.RowsAffected() != 1 {
		return fmt.Errorf("%w: order %d", ErrNotFound, o.ID)
	}
	return nil
}

func (t *pgTx) Enqueue(ctx context.Context, sellerID int64, events ...Envelope) error {
	for _, ev := range events {
		rec, err := outboxRecord(sellerID, ev)
		if err != nil {
			return err
		}
		if err := outbox.InsertTx(ctx, t.tx, rec); err != nil {
			return fmt.Errorf("outbox %s: %w", ev.EventType, err)
		}
	}
	return nil
}
