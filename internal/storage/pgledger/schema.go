package pgledger

import (
	"context"

	"github.com/pkg/errors"
)

func (s *Storage) initSchema(ctx context.Context) error {
	stmts := []string{
		`
CREATE TABLE IF NOT EXISTS vendors (
  id BIGSERIAL PRIMARY KEY,
  name TEXT NOT NULL,
  commission_rate NUMERIC(5,2) NULL
)`,
		`
CREATE TABLE IF NOT EXISTS products (
  id BIGSERIAL PRIMARY KEY,
  vendor_id BIGINT NOT NULL REFERENCES vendors(id),
  name TEXT NOT NULL,
  price_cents BIGINT NOT NULL,
  stock INT NOT NULL DEFAULT 0,
  updated_at TIMESTAMPTZ NOT NULL DEFAULT now()
)`,
		`
CREATE TABLE IF NOT EXISTS carts (
  user_id TEXT PRIMARY KEY,
  total_cents BIGINT NOT NULL DEFAULT 0
)`,
		`
CREATE TABLE IF NOT EXISTS cart_items (
  user_id TEXT NOT NULL,
  product_id BIGINT NOT NULL REFERENCES products(id),
  quantity INT NOT NULL,
  PRIMARY KEY (user_id, product_id)
)`,
		`
CREATE TABLE IF NOT EXISTS orders (
  id BIGSERIAL PRIMARY KEY,
  buyer_id TEXT NOT NULL,
  receiver_name TEXT NOT NULL,
  total_cents BIGINT NOT NULL,
  status TEXT NOT NULL,
  address TEXT NOT NULL DEFAULT '',
  city TEXT NOT NULL DEFAULT '',
  state TEXT NOT NULL DEFAULT '',
  zip TEXT NOT NULL DEFAULT '',
  payment_method TEXT NOT NULL DEFAULT '',
  created_at TIMESTAMPTZ NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_orders_buyer_id ON orders(buyer_id)`,
		`
CREATE TABLE IF NOT EXISTS order_items (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  product_id BIGINT NOT NULL,
  vendor_id BIGINT NOT NULL,
  quantity INT NOT NULL,
  unit_price_cents BIGINT NOT NULL
)`,
		`CREATE INDEX IF NOT EXISTS idx_order_items_order_id ON order_items(order_id)`,
		`
CREATE TABLE IF NOT EXISTS sub_orders (
  id BIGSERIAL PRIMARY KEY,
  order_id BIGINT NOT NULL REFERENCES orders(id) ON DELETE CASCADE,
  vendor_id BIGINT NOT NULL,
  subtotal_cents BIGINT NOT NULL,
  commission_cents BIGINT NOT NULL,
  status TEXT NOT NULL,
  created_at TIMESTAMPTZ NOT NULL,
  UNIQUE (order_id, vendor_id)
)`,
		`
CREATE TABLE IF NOT EXISTS tracking_codes (
  code TEXT PRIMARY KEY,
  order_id BIGINT NOT NULL UNIQUE REFERENCES orders(id) ON DELETE CASCADE,
  status TEXT NOT NULL,
  lat DOUBLE PRECISION NULL,
  lng DOUBLE PRECISION NULL,
  located_at TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS shipments (
  id BIGSERIAL PRIMARY KEY,
  tracking_code TEXT NOT NULL UNIQUE REFERENCES tracking_codes(code),
  order_id BIGINT NOT NULL,
  warehouse_id BIGINT NOT NULL,
  carrier_id BIGINT NULL,
  delivery_agent_id TEXT NULL,
  device_id TEXT NULL,
  status TEXT NOT NULL,
  notes TEXT NOT NULL DEFAULT '',
  actual_delivery TIMESTAMPTZ NULL,
  created_at TIMESTAMPTZ NOT NULL,
  updated_at TIMESTAMPTZ NOT NULL
)`,
		`
CREATE TABLE IF NOT EXISTS product_tracking_codes (
  id BIGSERIAL PRIMARY KEY,
  shipment_id BIGINT NOT NULL REFERENCES shipments(id) ON DELETE CASCADE,
  product_id BIGINT NOT NULL,
  vendor_id BIGINT NOT NULL,
  code TEXT NOT NULL UNIQUE,
  quantity INT NOT NULL,
  UNIQUE (shipment_id, product_id)
)`,
		`
CREATE TABLE IF NOT EXISTS device_locations (
  device_id TEXT NOT NULL,
  tracking_code TEXT NOT NULL REFERENCES tracking_codes(code),
  lat DOUBLE PRECISION NOT NULL,
  lng DOUBLE PRECISION NOT NULL,
  accuracy DOUBLE PRECISION NULL,
  speed DOUBLE PRECISION NULL,
  heading DOUBLE PRECISION NULL,
  battery INT NULL,
  recorded_at TIMESTAMPTZ NOT NULL,
  last_update TIMESTAMPTZ NOT NULL,
  PRIMARY KEY (device_id, tracking_code)
)`,
		`CREATE INDEX IF NOT EXISTS idx_device_locations_last_update ON device_locations(last_update)`,
	}

	for _, q := range stmts {
		if _, err := s.db.Exec(ctx, q); err != nil {
			return errors.Wrap(err, "init schema")
		}
	}
	return nil
}
