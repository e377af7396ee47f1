package orders

import (
	"context"
	"encoding/json"
	"log/slog"
	"strconv"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.OrderReceipt, error)
	GetOrder(ctx context.Context, orderID int64, buyerID string) (*models.OrderReceipt, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type Service struct {
	repo     Repository
	producer Producer

	ordersTopic   string
	realtimeTopic string
}

func New(repo Repository, producer Producer, ordersTopic, realtimeTopic string) *Service {
	return &Service{repo: repo, producer: producer, ordersTopic: ordersTopic, realtimeTopic: realtimeTopic}
}

// CreateOrder validates the checkout input and runs the order transaction.
// Notifications go out only after the transaction commits; a broker failure
// never fails an already-committed order.
func (s *Service) CreateOrder(ctx context.Context, in models.OrderCreateInput) (*models.OrderReceipt, error) {
	if in.BuyerID == "" {
		return nil, errors.Wrap(models.ErrValidation, "buyerId is required")
	}
	if len(in.Items) == 0 {
		return nil, errors.Wrap(models.ErrValidation, "cart is empty")
	}
	seen := make(map[int64]struct{}, len(in.Items))
	for _, it := range in.Items {
		if it.ProductID == 0 {
			return nil, errors.Wrap(models.ErrValidation, "productId is required")
		}
		if it.Quantity <= 0 {
			return nil, errors.Wrap(models.ErrValidation, "quantity must be positive")
		}
		if _, ok := seen[it.ProductID]; ok {
			return nil, errors.Wrap(models.ErrValidation, "duplicate product in cart")
		}
		seen[it.ProductID] = struct{}{}
	}
	if in.TotalCents <= 0 {
		return nil, errors.Wrap(models.ErrValidation, "totalPrice must be positive")
	}
	if in.Shipping.Address == "" || in.Shipping.City == "" {
		return nil, errors.Wrap(models.ErrValidation, "shipping address is required")
	}

	rcpt, err := s.repo.CreateOrder(ctx, in)
	if err != nil {
		return nil, err
	}

	s.announceCreated(ctx, rcpt)
	return rcpt, nil
}

func (s *Service) GetOrder(ctx context.Context, orderID int64, buyerID string) (*models.OrderReceipt, error) {
	if orderID == 0 {
		return nil, errors.Wrap(models.ErrValidation, "orderId is required")
	}
	return s.repo.GetOrder(ctx, orderID, buyerID)
}

// announceCreated публикует событие о заказе и дельты остатков; best-effort.
func (s *Service) announceCreated(ctx context.Context, rcpt *models.OrderReceipt) {
	if s.producer == nil {
		return
	}
	key := []byte(strconv.FormatInt(rcpt.Order.ID, 10))

	vendorIDs := make([]int64, 0, len(rcpt.SubOrders))
	for _, so := range rcpt.SubOrders {
		vendorIDs = append(vendorIDs, so.VendorID)
	}
	created := messages.OrderCreated{
		OrderID:      rcpt.Order.ID,
		BuyerID:      rcpt.Order.BuyerID,
		TrackingCode: rcpt.TrackingCode,
		TotalCents:   rcpt.Order.TotalCents,
		VendorIDs:    vendorIDs,
		CreatedAt:    rcpt.Order.CreatedAt,
	}
	if b, err := json.Marshal(created); err == nil {
		if err := s.producer.Publish(ctx, s.ordersTopic, key, b); err != nil {
			slog.Error("publish order created", "orderId", rcpt.Order.ID, "err", err)
		}
	}

	for _, it := range rcpt.Items {
		inv := messages.InventoryChanged{
			ProductID: it.ProductID,
			VendorID:  it.VendorID,
			Delta:     -it.Quantity,
			ChangedAt: rcpt.Order.CreatedAt,
		}
		b, err := json.Marshal(inv)
		if err != nil {
			continue
		}
		if err := s.producer.Publish(ctx, s.ordersTopic, key, b); err != nil {
			slog.Error("publish inventory changed", "productId", it.ProductID, "err", err)
		}
	}

	payload, _ := json.Marshal(created)
	ev := messages.RealtimeEvent{
		Room:      messages.UserRoom(rcpt.Order.BuyerID),
		Event:     messages.EventOrderCreated,
		Payload:   payload,
		EmittedAt: time.Now().UTC(),
	}
	if b, err := json.Marshal(ev); err == nil {
		if err := s.producer.Publish(ctx, s.realtimeTopic, []byte(ev.Room), b); err != nil {
			slog.Error("publish realtime order created", "orderId", rcpt.Order.ID, "err", err)
		}
	}
}
