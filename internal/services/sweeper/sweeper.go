package sweeper

import (
	"context"
	"encoding/json"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/Vendora/ShipRoom/internal/broker/messages"
	"github.com/Vendora/ShipRoom/internal/models"
)

type Repository interface {
	ListDeviceLocations(ctx context.Context) ([]*models.DeviceLocation, error)
}

type Producer interface {
	Publish(ctx context.Context, topic string, key, value []byte) error
}

// Sweeper periodically scans device locations and announces presence edges.
// Presence itself is derived, never stored; the sweeper only exists to push
// the offline/online flips to subscribers who would otherwise learn about
// them on their next pull.
type Sweeper struct {
	repo     Repository
	producer Producer

	topic string

	sweepInterval time.Duration
	offlineAfter  time.Duration

	triggerCh chan struct{}

	// последнее объявленное состояние по (device, tracking code);
	// шлём событие только на смену, не на каждый проход
	announcedMu sync.Mutex
	announced   map[string]bool

	startedAtUnixNano   int64
	lastSweepUnixNano   atomic.Int64
	lastTriggerUnixNano atomic.Int64
	totalSwept          atomic.Int64
	totalEdges          atomic.Int64
	totalErrors         atomic.Int64
	lastErrorMu         sync.Mutex
	lastError           string
}

func New(repo Repository, producer Producer, topic string) *Sweeper {
	return &Sweeper{
		repo:              repo,
		producer:          producer,
		topic:             topic,
		sweepInterval:     30 * time.Second,
		offlineAfter:      3 * time.Minute,
		triggerCh:         make(chan struct{}, 1),
		announced:         make(map[string]bool),
		startedAtUnixNano: time.Now().UTC().UnixNano(),
	}
}

func (s *Sweeper) WithSettings(sweepInterval, offlineAfter time.Duration) *Sweeper {
	if sweepInterval > 0 {
		s.sweepInterval = sweepInterval
	}
	if offlineAfter > 0 {
		s.offlineAfter = offlineAfter
	}
	return s
}

// Trigger forces an immediate sweep (best-effort, non-blocking).
func (s *Sweeper) Trigger() {
	s.lastTriggerUnixNano.Store(time.Now().UTC().UnixNano())
	select {
	case s.triggerCh <- struct{}{}:
	default:
	}
}

type Stats struct {
	StartedAt     time.Time  `json:"startedAt"`
	LastSweepAt   *time.Time `json:"lastSweepAt,omitempty"`
	LastTriggerAt *time.Time `json:"lastTriggerAt,omitempty"`
	TotalSwept    int64      `json:"totalSwept"`
	TotalEdges    int64      `json:"totalEdges"`
	TotalErrors   int64      `json:"totalErrors"`
	LastError     string     `json:"lastError,omitempty"`
}

func (s *Sweeper) Stats() Stats {
	st := Stats{
		StartedAt:   time.Unix(0, s.startedAtUnixNano).UTC(),
		TotalSwept:  s.totalSwept.Load(),
		TotalEdges:  s.totalEdges.Load(),
		TotalErrors: s.totalErrors.Load(),
	}
	if n := s.lastSweepUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastSweepAt = &t
	}
	if n := s.lastTriggerUnixNano.Load(); n > 0 {
		t := time.Unix(0, n).UTC()
		st.LastTriggerAt = &t
	}
	s.lastErrorMu.Lock()
	st.LastError = s.lastError
	s.lastErrorMu.Unlock()
	return st
}

func (s *Sweeper) Run(ctx context.Context) error {
	t := time.NewTicker(s.sweepInterval)
	defer t.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-t.C:
			s.runOnce(ctx)
		case <-s.triggerCh:
			s.runOnce(ctx)
		}
	}
}

func (s *Sweeper) runOnce(ctx context.Context) {
	now := time.Now().UTC()
	s.lastSweepUnixNano.Store(now.UnixNano())

	locs, err := s.repo.ListDeviceLocations(ctx)
	if err != nil {
		slog.Error("list device locations", "error", err.Error())
		s.totalErrors.Add(1)
		s.lastErrorMu.Lock()
		s.lastError = err.Error()
		s.lastErrorMu.Unlock()
		return
	}
	s.totalSwept.Add(int64(len(locs)))

	for _, loc := range locs {
		online := !loc.Offline(now, s.offlineAfter)
		key := loc.DeviceID + "|" + loc.TrackingCode

		s.announcedMu.Lock()
		prev, seen := s.announced[key]
		s.announcedMu.Unlock()

		if seen && prev == online {
			continue
		}
		if !seen && online {
			// первый проход после старта: объявляем только офлайн,
			// "online" и так очевиден из потока пингов
			s.record(key, online)
			continue
		}

		if err := s.announceEdge(ctx, loc, online, now); err != nil {
			// состояние не записываем: ребро попробуем объявить в следующий проход
			s.totalErrors.Add(1)
			s.lastErrorMu.Lock()
			s.lastError = err.Error()
			s.lastErrorMu.Unlock()
			slog.Error("announce presence edge", "deviceId", loc.DeviceID, "trackingCode", loc.TrackingCode, "error", err.Error())
			continue
		}
		s.record(key, online)
		s.totalEdges.Add(1)
	}
}

func (s *Sweeper) record(key string, online bool) {
	s.announcedMu.Lock()
	s.announced[key] = online
	s.announcedMu.Unlock()
}

func (s *Sweeper) announceEdge(ctx context.Context, loc *models.DeviceLocation, online bool, now time.Time) error {
	event := messages.EventDeviceOffline
	if online {
		event = messages.EventDeviceOnline
	}
	payload, err := json.Marshal(messages.DevicePresence{DeviceID: loc.DeviceID, Timestamp: now})
	if err != nil {
		return err
	}
	room := messages.ShipmentRoom(loc.TrackingCode)
	b, err := json.Marshal(messages.RealtimeEvent{
		Room:      room,
		Event:     event,
		Payload:   payload,
		EmittedAt: now,
	})
	if err != nil {
		return err
	}
	return s.producer.Publish(ctx, s.topic, []byte(room), b)
}
