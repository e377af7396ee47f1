package locations

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/cache"
	"github.com/Vendora/ShipRoom/internal/models"
	"github.com/pkg/errors"
)

type Repository interface {
	UpsertDeviceLocation(ctx context.Context, ping models.DevicePing, now time.Time) (*models.DeviceLocation, error)
	GetTrackingSnapshot(ctx context.Context, code string) (*models.TrackingSnapshot, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

type RateLimiter interface {
	Allow(ctx context.Context, key string, limit int64, window time.Duration) (bool, int64, error)
}

type Service struct {
	repo     Repository
	producer Producer
	cache    cache.BytesCache
	limiter  RateLimiter

	realtimeTopic string
	snapshotTTL   time.Duration
	offlineAfter  time.Duration
	pingLimit     int64

	now func() time.Time
}

func New(repo Repository, producer Producer, c cache.BytesCache, limiter RateLimiter,
	realtimeTopic string, snapshotTTL, offlineAfter time.Duration, pingLimit int64) *Service {
	return &Service{
		repo:          repo,
		producer:      producer,
		cache:         c,
		limiter:       limiter,
		realtimeTopic: realtimeTopic,
		snapshotTTL:   snapshotTTL,
		offlineAfter:  offlineAfter,
		pingLimit:     pingLimit,
		now:           func() time.Time { return time.Now().UTC() },
	}
}

// SnapshotView is the tracking snapshot plus the derived presence flag.
// Presence is never stored; it falls out of the last ping age at read time.
type SnapshotView struct {
	models.TrackingSnapshot
	DeviceOnline *bool `json:"deviceOnline,omitempty"`
}

// IngestPing validates and persists one device GPS report, then announces it
// to the shipment room. The write is the source of truth; announcement and
// cache invalidation are best-effort.
func (s *Service) IngestPing(ctx context.Context, ping models.DevicePing) (*models.DeviceLocation, error) {
	if ping.TrackingCode == "" {
		return nil, errors.Wrap(models.ErrValidation, "trackingCode is required")
	}
	if ping.DeviceID == "" {
		return nil, errors.Wrap(models.ErrValidation, "deviceId is required")
	}
	if ping.Lat < -90 || ping.Lat > 90 {
		return nil, errors.Wrap(models.ErrValidation, "lat out of range")
	}
	if ping.Lng < -180 || ping.Lng > 180 {
		return nil, errors.Wrap(models.ErrValidation, "lng out of range")
	}

	now := s.now()
	if ping.RecordedAt.IsZero() {
		ping.RecordedAt = now
	}

	if s.limiter != nil && s.pingLimit > 0 {
		key := "rl:device:" + ping.DeviceID + ":" + now.Format("200601021504")
		ok, n, err := s.limiter.Allow(ctx, key, s.pingLimit, time.Minute)
		if err != nil {
			// лимитер лёг — пинги важнее, пропускаем
			slog.Error("device rate limit check", "deviceId", ping.DeviceID, "err", err)
		} else if !ok {
			return nil, errors.Wrapf(models.ErrRateLimited, "device %s sent %d pings this minute", ping.DeviceID, n)
		}
	}

	loc, err := s.repo.UpsertDeviceLocation(ctx, ping, now)
	if err != nil {
		return nil, err
	}

	if s.cache != nil {
		if err := s.cache.Del(ctx, cache.TrackingSnapshotKey(ping.TrackingCode)); err != nil {
			slog.Error("invalidate snapshot cache", "trackingCode", ping.TrackingCode, "err", err)
		}
	}
	s.announceLocation(ctx, loc)
	return loc, nil
}

// Snapshot serves the pull-based tracking view, cache-first. The presence
// flag is computed on every read so a cached snapshot cannot pin a device
// online past the threshold.
func (s *Service) Snapshot(ctx context.Context, code string) (*SnapshotView, error) {
	if code == "" {
		return nil, errors.Wrap(models.ErrValidation, "trackingCode is required")
	}

	if s.cache != nil && s.snapshotTTL > 0 {
		if b, ok, err := s.cache.Get(ctx, cache.TrackingSnapshotKey(code)); err == nil && ok {
			var snap models.TrackingSnapshot
			if json.Unmarshal(b, &snap) == nil {
				return s.view(&snap), nil
			}
		}
	}

	snap, err := s.repo.GetTrackingSnapshot(ctx, code)
	if err != nil {
		return nil, err
	}
	if s.cache != nil && s.snapshotTTL > 0 {
		if b, err := json.Marshal(snap); err == nil {
			_ = s.cache.Set(ctx, cache.TrackingSnapshotKey(code), b, s.snapshotTTL)
		}
	}
	return s.view(snap), nil
}

func (s *Service) view(snap *models.TrackingSnapshot) *SnapshotView {
	v := &SnapshotView{TrackingSnapshot: *snap}
	if snap.Location != nil {
		online := !snap.Location.Offline(s.now(), s.offlineAfter)
		v.DeviceOnline = &online
	}
	return v
}

func (s *Service) announceLocation(ctx context.Context, loc *models.DeviceLocation) {
	if s.producer == nil {
		return
	}
	payload, err := json.Marshal(messages.LocationUpdated{
		DeviceID:  loc.DeviceID,
		Lat:       loc.Lat,
		Lng:       loc.Lng,
		Accuracy:  loc.Accuracy,
		Speed:     loc.Speed,
		Heading:   loc.Heading,
		Battery:   loc.Battery,
		Timestamp: loc.RecordedAt,
	})
	if err != nil {
		return
	}
	room := messages.ShipmentRoom(loc.TrackingCode)
	ev := messages.RealtimeEvent{
		Room:      room,
		Event:     messages.EventLocationUpdated,
		Payload:   payload,
		EmittedAt: s.now(),
	}
	b, err := json.Marshal(ev)
	if err != nil {
		return
	}
	if err := s.producer.Publish(ctx, s.realtimeTopic, []byte(room), b); err != nil {
		slog.Error("publish location updated", "trackingCode", loc.TrackingCode, "err", err)
	}
}
