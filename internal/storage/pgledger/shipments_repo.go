package pgledger

import (
	"context"
	"time"

	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

const productCodeInsertAttempts = 5

// CreateShipment binds a shipment to an order's tracking code and mints one
// product tracking code per distinct product line of the order.
func (s *Storage) CreateShipment(ctx context.Context, in models.ShipmentCreateInput) (*models.Shipment, []*models.ProductTrackingCode, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()
	now := time.Now().UTC()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var code string
	err = tx.QueryRow(ctx, `SELECT code FROM tracking_codes WHERE order_id = $1`, in.OrderID).Scan(&code)
	if err == pgx.ErrNoRows {
		return nil, nil, errors.Wrapf(models.ErrNotFound, "order %d", in.OrderID)
	}
	if err != nil {
		return nil, nil, errors.Wrap(err, "select tracking code")
	}

	var exists bool
	err = tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM shipments WHERE tracking_code = $1)`, code).Scan(&exists)
	if err != nil {
		return nil, nil, errors.Wrap(err, "check existing shipment")
	}
	if exists {
		return nil, nil, errors.Wrapf(models.ErrValidation, "shipment for order %d already exists", in.OrderID)
	}

	sh := &models.Shipment{
		TrackingCode:    code,
		OrderID:         in.OrderID,
		WarehouseID:     in.WarehouseID,
		CarrierID:       in.CarrierID,
		DeliveryAgentID: in.DeliveryAgentID,
		Status:          models.ShipmentStatusPreparing,
		Notes:           in.Notes,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	err = tx.QueryRow(ctx, `
INSERT INTO shipments (tracking_code, order_id, warehouse_id, carrier_id, delivery_agent_id, status, notes, created_at, updated_at)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$8)
RETURNING id
`, sh.TrackingCode, sh.OrderID, sh.WarehouseID, sh.CarrierID, sh.DeliveryAgentID, sh.Status, sh.Notes, now).Scan(&sh.ID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "insert shipment")
	}

	rows, err := tx.Query(ctx, `
SELECT product_id, vendor_id, SUM(quantity)
FROM order_items
WHERE order_id = $1
GROUP BY product_id, vendor_id
ORDER BY product_id
`, in.OrderID)
	if err != nil {
		return nil, nil, errors.Wrap(err, "select order lines")
	}
	var ptks []*models.ProductTrackingCode
	for rows.Next() {
		var p models.ProductTrackingCode
		if err := rows.Scan(&p.ProductID, &p.VendorID, &p.Quantity); err != nil {
			rows.Close()
			return nil, nil, errors.Wrap(err, "scan order line")
		}
		p.ShipmentID = sh.ID
		ptks = append(ptks, &p)
	}
	if rows.Err() != nil {
		return nil, nil, errors.Wrap(rows.Err(), "rows")
	}
	rows.Close()

	for _, p := range ptks {
		if err := insertProductTrackingCode(ctx, tx, p); err != nil {
			return nil, nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, nil, errors.Wrap(err, "commit tx")
	}
	return sh, ptks, nil
}

func insertProductTrackingCode(ctx context.Context, tx pgx.Tx, p *models.ProductTrackingCode) error {
	for attempt := 0; attempt < productCodeInsertAttempts; attempt++ {
		code := models.NewProductTrackingCode()
		err := tx.QueryRow(ctx, `
INSERT INTO product_tracking_codes (shipment_id, product_id, vendor_id, code, quantity)
VALUES ($1,$2,$3,$4,$5)
ON CONFLICT (code) DO NOTHING
RETURNING id
`, p.ShipmentID, p.ProductID, p.VendorID, code, p.Quantity).Scan(&p.ID)
		if err == pgx.ErrNoRows {
			continue // код занят, пробуем другой
		}
		if err != nil {
			return errors.Wrap(err, "insert product tracking code")
		}
		p.Code = code
		return nil
	}
	return errors.Errorf("product code collision after %d attempts", productCodeInsertAttempts)
}

// AssignAgent binds a delivery agent (and optionally their device) to a shipment.
func (s *Storage) AssignAgent(ctx context.Context, in models.ShipmentAssignInput) (*models.Shipment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tag, err := s.db.Exec(ctx, `
UPDATE shipments
SET delivery_agent_id = $2, device_id = COALESCE($3, device_id), updated_at = now()
WHERE tracking_code = $1
`, in.TrackingCode, in.DeliveryAgentID, in.DeviceID)
	if err != nil {
		return nil, errors.Wrap(err, "assign agent")
	}
	if tag.RowsAffected() == 0 {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment %s", in.TrackingCode)
	}
	return s.GetShipment(ctx, in.TrackingCode)
}

// UpdateStatus advances the lifecycle under a row lock so concurrent updates
// cannot interleave an illegal pair of transitions. The actual delivery time
// is stamped exactly once, when the shipment first enters delivered.
func (s *Storage) UpdateStatus(ctx context.Context, trackingCode string, to models.ShipmentStatus, notes string) (*models.Shipment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var cur models.ShipmentStatus
	err = tx.QueryRow(ctx, `SELECT status FROM shipments WHERE tracking_code = $1 FOR UPDATE`, trackingCode).Scan(&cur)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment %s", trackingCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment status")
	}

	if !models.CanTransition(cur, to) {
		return nil, errors.Wrapf(models.ErrIllegalTransition, "%s -> %s", cur, to)
	}

	if to == models.ShipmentStatusDelivered {
		_, err = tx.Exec(ctx, `
UPDATE shipments
SET status = $2, notes = $3, actual_delivery = COALESCE(actual_delivery, now()), updated_at = now()
WHERE tracking_code = $1
`, trackingCode, to, notes)
	} else {
		_, err = tx.Exec(ctx, `
UPDATE shipments SET status = $2, notes = $3, updated_at = now() WHERE tracking_code = $1
`, trackingCode, to, notes)
	}
	if err != nil {
		return nil, errors.Wrap(err, "update shipment status")
	}

	if _, err := tx.Exec(ctx, `UPDATE tracking_codes SET status = $2 WHERE code = $1`, trackingCode, string(to)); err != nil {
		return nil, errors.Wrap(err, "update tracking code status")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return s.GetShipment(ctx, trackingCode)
}

func (s *Storage) GetShipment(ctx context.Context, trackingCode string) (*models.Shipment, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	var sh models.Shipment
	err := s.db.QueryRow(ctx, `
SELECT id, tracking_code, order_id, warehouse_id, carrier_id, delivery_agent_id, device_id,
       status, notes, actual_delivery, created_at, updated_at
FROM shipments
WHERE tracking_code = $1
`, trackingCode).Scan(
		&sh.ID, &sh.TrackingCode, &sh.OrderID, &sh.WarehouseID, &sh.CarrierID, &sh.DeliveryAgentID, &sh.DeviceID,
		&sh.Status, &sh.Notes, &sh.ActualDelivery, &sh.CreatedAt, &sh.UpdatedAt,
	)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "shipment %s", trackingCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select shipment")
	}
	return &sh, nil
}
