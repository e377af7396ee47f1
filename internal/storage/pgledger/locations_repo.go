package pgledger

import (
	"context"
	"time"

	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/jackc/pgx/v5"
	"github.com/pkg/errors"
)

// UpsertDeviceLocation keeps one current row per (device, tracking code) and
// mirrors the latest position onto the tracking code itself.
func (s *Storage) UpsertDeviceLocation(ctx context.Context, ping models.DevicePing, now time.Time) (*models.DeviceLocation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	tx, err := s.db.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return nil, errors.Wrap(err, "begin tx")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	var orderID int64
	err = tx.QueryRow(ctx, `SELECT order_id FROM tracking_codes WHERE code = $1`, ping.TrackingCode).Scan(&orderID)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "tracking code %s", ping.TrackingCode)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking code")
	}

	recorded := ping.RecordedAt
	if recorded.IsZero() {
		recorded = now
	}

	loc := &models.DeviceLocation{
		DeviceID:     ping.DeviceID,
		TrackingCode: ping.TrackingCode,
		Lat:          ping.Lat,
		Lng:          ping.Lng,
		Accuracy:     ping.Accuracy,
		Speed:        ping.Speed,
		Heading:      ping.Heading,
		Battery:      ping.Battery,
		RecordedAt:   recorded,
		LastUpdate:   now,
	}
	_, err = tx.Exec(ctx, `
INSERT INTO device_locations (device_id, tracking_code, lat, lng, accuracy, speed, heading, battery, recorded_at, last_update)
VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10)
ON CONFLICT (device_id, tracking_code) DO UPDATE SET
  lat = EXCLUDED.lat,
  lng = EXCLUDED.lng,
  accuracy = EXCLUDED.accuracy,
  speed = EXCLUDED.speed,
  heading = EXCLUDED.heading,
  battery = EXCLUDED.battery,
  recorded_at = EXCLUDED.recorded_at,
  last_update = EXCLUDED.last_update
`, loc.DeviceID, loc.TrackingCode, loc.Lat, loc.Lng, loc.Accuracy, loc.Speed, loc.Heading, loc.Battery, loc.RecordedAt, loc.LastUpdate)
	if err != nil {
		return nil, errors.Wrap(err, "upsert device location")
	}

	_, err = tx.Exec(ctx, `
UPDATE tracking_codes SET lat = $2, lng = $3, located_at = $4 WHERE code = $1
`, ping.TrackingCode, ping.Lat, ping.Lng, now)
	if err != nil {
		return nil, errors.Wrap(err, "update tracking code location")
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit tx")
	}
	return loc, nil
}

// ListDeviceLocations returns every current location row; the sweeper derives
// offline state from last_update.
func (s *Storage) ListDeviceLocations(ctx context.Context) ([]*models.DeviceLocation, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	rows, err := s.db.Query(ctx, `
SELECT device_id, tracking_code, lat, lng, accuracy, speed, heading, battery, recorded_at, last_update
FROM device_locations
ORDER BY last_update DESC
`)
	if err != nil {
		return nil, errors.Wrap(err, "select device locations")
	}
	defer rows.Close()

	var out []*models.DeviceLocation
	for rows.Next() {
		var l models.DeviceLocation
		if err := rows.Scan(
			&l.DeviceID, &l.TrackingCode, &l.Lat, &l.Lng,
			&l.Accuracy, &l.Speed, &l.Heading, &l.Battery,
			&l.RecordedAt, &l.LastUpdate,
		); err != nil {
			return nil, errors.Wrap(err, "scan device location")
		}
		out = append(out, &l)
	}
	if rows.Err() != nil {
		return nil, errors.Wrap(rows.Err(), "rows")
	}
	return out, nil
}

// GetTrackingSnapshot assembles the public view for a tracking code: order
// summary, items, shipment state and the freshest device location.
func (s *Storage) GetTrackingSnapshot(ctx context.Context, code string) (*models.TrackingSnapshot, error) {
	ctx, cancel := s.withTimeout(ctx)
	defer cancel()

	snap := &models.TrackingSnapshot{TrackingCode: code}
	err := s.db.QueryRow(ctx, `
SELECT t.order_id, o.status
FROM tracking_codes t
JOIN orders o ON o.id = t.order_id
WHERE t.code = $1
`, code).Scan(&snap.OrderID, &snap.OrderStatus)
	if err == pgx.ErrNoRows {
		return nil, errors.Wrapf(models.ErrNotFound, "tracking code %s", code)
	}
	if err != nil {
		return nil, errors.Wrap(err, "select tracking code")
	}

	items, err := s.listOrderItems(ctx, snap.OrderID)
	if err != nil {
		return nil, err
	}
	snap.Items = items

	var sum models.ShipmentSummary
	err = s.db.QueryRow(ctx, `
SELECT status, notes, actual_delivery FROM shipments WHERE tracking_code = $1
`, code).Scan(&sum.Status, &sum.Notes, &sum.ActualDelivery)
	if err != nil && err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, "select shipment summary")
	}
	if err == nil {
		snap.Shipment = &sum
	}

	var loc models.DeviceLocation
	err = s.db.QueryRow(ctx, `
SELECT device_id, tracking_code, lat, lng, accuracy, speed, heading, battery, recorded_at, last_update
FROM device_locations
WHERE tracking_code = $1
ORDER BY last_update DESC
LIMIT 1
`, code).Scan(
		&loc.DeviceID, &loc.TrackingCode, &loc.Lat, &loc.Lng,
		&loc.Accuracy, &loc.Speed, &loc.Heading, &loc.Battery,
		&loc.RecordedAt, &loc.LastUpdate,
	)
	if err != nil && err != pgx.ErrNoRows {
		return nil, errors.Wrap(err, "select latest location")
	}
	if err == nil {
		snap.Location = &loc
	}

	return snap, nil
}
