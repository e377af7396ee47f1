package pgledger

import (
	"context"
	"math"
	"time"

	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const trackingCodeInsertAttempts = 5

// CreateOrder materializes a checkout in one transaction: order row, tracking
// code, price-snapshotted items with conditional stock decrement, per-vendor
// sub-orders, cart wipe. Any failure rolls the whole thing back.
func (s *Storage) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.OrderReceipt, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	// Снимаем текущие цены: это и есть "цена на момент покупки".
	lines := make([]pricedLine, 0, len(in.Items))
	var computedTotal int64
	for _, it := range in.Items {
		var priceCents, vendorID int64
		err := tx.QueryRow(ctx, `SELECT price_cents, vendor_id FROM products WHERE id = $1`, it.ProductID).
			Scan(&priceCents, &vendorID)
		if err == pgx.ErrNoRows {
			return nil, errors.Wrapf(models.ErrNotFound, "product %d", it.ProductID)
		}
		if err != nil {
			return nil, errors.Wrap(err, "select product")
		}
		lines = append(lines, pricedLine{
			productID: it.ProductID, quantity: it.Quantity,
			priceCents: priceCents, vendorID: vendorID,
		})
		computedTotal += priceCents * int64(it.Quantity)
	}

	// Клиентский total — только заявка. Расходится с ценами в базе => корзина устарела.
	if in.TotalCents != computedTotal {
		return nil, errors.Wrapf(models.ErrValidation, "total mismatch: got %d, want %d", in.TotalCents, computedTotal)
	}

	receiver := in.Shipping.FirstName + " " + in.Shipping.LastName
	order := &models.Order{
		BuyerID:       in.BuyerID,
		ReceiverName:  receiver,
		TotalCents:    computedTotal,
		Status:        models.OrderStatusPending,
		Address:       in.Shipping.Address,
		City:          in.Shipping.City,
		State:         in.Shipping.State,
		Zip:           in.Shipping.Zip,
		PaymentMethod: in.PaymentMethod,
		CreatedAt:     now,
	}
	err = tx.QueryRow(ctx, `
INSERT INTO orders (buyer_id, receiver_name, total_cents, status, address, city, state, zip, payment_method, created_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
RETURNING id
`, order.BuyerID, order.ReceiverName, order.TotalCents, order.Status,
		order.Address, order.City, order.State, order.Zip, order.PaymentMethod, now).Scan(&order.ID)
	if err != nil {
		return nil, errors.Wrap(err, "insert order")
	}

	code, err := insertTrackingCode(ctx, tx, order.ID, now)
	if err != nil {
		return nil, err
	}

	items := make([]*models.OrderItem, 0, len(lines))
	for _, l := range lines {
		// Условный декремент: при конкурентной покупке последней единицы
		// выигрывает ровно один заказ, остальные откатываются целиком.
		tag, err := tx.Exec(ctx, `
UPDATE products SET stock = stock - $2, updated_at = now()
WHERE id = $1 AND stock >= $2
`, l.productID, l.quantity)
		if err != nil {
			return nil, errors.Wrap(err, "decrement stock")
		}
		if tag.RowsAffected() == 0 {
			return nil, errors.Wrapf(models.ErrOutOfStock, "product %d", l.productID)
		}

		item := &models.OrderItem{
			OrderID:        order.ID,
			ProductID:      l.productID,
			VendorID:       l.vendorID,
			Quantity:       l.quantity,
			UnitPriceCents: l.priceCents,
		}
		err = tx.QueryRow(ctx, `
INSERT INTO order_items (order_id, product_id, vendor_id, quantity, unit_price_cents)
VALUES ($1,$2,$3,$4,$5)
RETURNING id
`, item.OrderID, item.ProductID, item.VendorID, item.Quantity, item.UnitPriceCents).Scan(&item.ID)
		if err != nil {
			return nil, errors.Wrap(err, "insert order item")
		}
		items = append(items, item)
	}

	subOrders, err := insertSubOrders(ctx, tx, order.ID, lines, now)
	if err != nil {
		return nil, err
	}

	if _, err := tx.Exec(ctx, `DELETE FROM cart_items WHERE user_id = $1`, in.BuyerID); err != nil {
		return nil, errors.Wrap(err, "clear cart items")
	}
	if _, err := tx.Exec(ctx, `UPDATE carts SET total_cents = 0 WHERE user_id = $1`, in.BuyerID); err != nil {
		return nil, errors.Wrap(err, "zero cart total")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}

	return &models.OrderReceipt{
		Order:        order,
		Items:        items,
		SubOrders:    subOrders,
		TrackingCode: code,
	}, nil
}

// insertTrackingCode вставляет уникальный код; при коллизии (DO NOTHING,
// ноль строк) перегенерирует, транзакция при этом не портится.
func insertTrackingCode(ctx context.Context, tx pgx.Tx, orderID int64, now time.Time) (string, error) {
	for attempt := 0; attempt < trackingCodeInsertAttempts; attempt++ {
		code := models.NewTrackingCode(now)
		tag, err := tx.Exec(ctx, `
INSERT INTO tracking_codes (code, order_id, status, created_at)
VALUES ($1,$2,$3,$4)
ON CONFLICT (code) DO NOTHING
`, code, orderID, models.OrderStatusPending, now)
		if err != nil {
			return "", errors.Wrap(err, "insert tracking code")
		}
		if tag.RowsAffected() == 1 {
			return code, nil
		}
	}
	return "", errors.Errorf("tracking code collision after %d attempts", trackingCodeInsertAttempts)
}

type pricedLine struct {
	productID  int64
	quantity   int32
	priceCents int64
	vendorID   int64
}

func insertSubOrders(ctx context.Context, tx pgx.Tx, orderID int64, lines []pricedLine, now time.Time) ([]*models.SubOrder, error) {
	// Группируем по продавцу, сохраняя порядок первого появления.
	vendorIDs := make([]int64, 0, len(lines))
	subtotals := make(map[int64]int64, len(lines))
	for _, l := range lines {
		if _, ok := subtotals[l.vendorID]; !ok {
			vendorIDs = append(vendorIDs, l.vendorID)
		}
		subtotals[l.vendorID] += l.priceCents * int64(l.quantity)
	}

	rates := make(map[int64]float64, len(vendorIDs))
	rows, err := tx.Query(ctx, `SELECT id, commission_rate FROM vendors WHERE id = ANY($1)`, vendorIDs)
	if err != nil {
		return nil, errors.Wrap(err, "select vendor rates")
	}
	defer rows.Close()
	for rows.Next() {
		var id int64
		var rate *float64
		if err := rows.Scan(&id, &rate); err != nil {
			return nil, errors.Wrap(err, "scan vendor rate")
		}
		if rate != nil {
			rates[id] = *rate
		}
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	out := make([]*models.SubOrder, 0, len(vendorIDs))
	for _, vid := range vendorIDs {
		rate, ok := rates[vid]
		if !ok {
			// Продавец без настроенной ставки не валит заказ.
			rate = models.DefaultCommissionRatePercent
		}
		subtotal := subtotals[vid]
		so := &models.SubOrder{
			OrderID:         orderID,
			VendorID:        vid,
			SubtotalCents:   subtotal,
			CommissionCents: int64(math.Round(float64(subtotal) * rate / 100)),
			Status:          models.SubOrderStatusPending,
			CreatedAt:       now,
		}
		err := tx.QueryRow(ctx, `
INSERT INTO sub_orders (order_id, vendor_id, subtotal_cents, commission_cents, status, created_at)
VALUES ($1,$2,$3,$4,$5,$6)
RETURNING id
`, so.OrderID, so.VendorID, so.SubtotalCents, so.CommissionCents, so.Status, so.CreatedAt).Scan(&so.ID)
		if err != nil {
			return nil, errors.Wrap(err, "insert sub order")
		}
		out = append(out, so)
	}
	return out, nil
}

// GetOrder returns one order with items and sub-orders, scoped to its buyer.
func (s *Storage) GetOrder(ctx context.Context, orderID int64, buyerID string) (*models.OrderReceipt, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var o models.Order
	err := s.db.QueryRow(ctx, `
SELECT id, buyer_id, receiver_name, total_cents, status, address, city, state, zip, payment_method, created_at
FROM orders
WHERE id = $1 AND buyer_id = $2
`, orderID, buyerID).Scan(
		&o.ID, &o.BuyerID, &o.ReceiverName, &o.TotalCents, &o.Status,
		&o.Address, &o.City, &o.State, &o.Zip, &o.PaymentMethod, &o.CreatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "order %d", orderID)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select order")
	}

	items, err := s.listOrderItems(ctx, orderID)
	if err != nil {
		return nil, err
	}

	rows, err := s.db.Query(ctx, `
SELECT id, order_id, vendor_id, subtotal_cents, commission_cents, status, created_at
FROM sub_orders
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select sub orders")
	}
	defer rows.Close()

	var subOrders []*models.SubOrder
	for rows.Next() {
		var so models.SubOrder
		if err := rows.Scan(&so.ID, &so.OrderID, &so.VendorID, &so.SubtotalCents, &so.CommissionCents, &so.Status, &so.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan sub order")
		}
		subOrders = append(subOrders, &so)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}

	var code string
	err = s.db.QueryRow(ctx, `SELECT code FROM tracking_codes WHERE order_id = $1`, orderID).Scan(&code)
	if err != nil && err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, "select tracking code")
	}

	return &models.OrderReceipt{Order: &o, Items: items, SubOrders: subOrders, TrackingCode: code}, nil
}

func (s *Storage) listOrderItems(ctx context.Context, orderID int64) ([]*models.OrderItem, error) {
	rows, err := s.db.Query(ctx, `
SELECT id, order_id, product_id, vendor_id, quantity, unit_price_cents
FROM order_items
WHERE order_id = $1
ORDER BY id
`, orderID)
	if err != nil {
		return nil, errors.Wrap(err, "select order items")
	}
	defer rows.Close()

	var items []*models.OrderItem
	for rows.Next() {
		var it models.OrderItem
		if err := rows.Scan(&it.ID, &it.OrderID, &it.ProductID, &it.VendorID, &it.Quantity, &it.UnitPriceCents); err != nil {
			return nil, errors.Wrap(err, "scan order item")
		}
		items = append(items, &it)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return items, nil
}
