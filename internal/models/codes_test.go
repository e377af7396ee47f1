package models

import (
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestNewTrackingCode_FormatAndUniqueness(t *testing.T) {
	re := regexp.MustCompile(`^TRK-[0-9A-Z]+-[0-9A-Z]{5}$`)

	// Метка времени двигается на каждый код, как и в проде: случайный
	// хвост в одиночку уникальность не гарантирует, за коллизии внутри
	// одной миллисекунды отвечает retry-цикл вставки в ledger.
	now := time.Now()
	seen := make(map[string]struct{}, 500)
	for i := 0; i < 500; i++ {
		code := NewTrackingCode(now.Add(time.Duration(i) * time.Millisecond))
		require.Regexp(t, re, code)
		_, dup := seen[code]
		require.False(t, dup, "collision: %s", code)
		seen[code] = struct{}{}
	}
}

func TestNewProductTrackingCode_Format(t *testing.T) {
	re := regexp.MustCompile(`^PTK-[0-9a-f]{12}$`)

	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		code := NewProductTrackingCode()
		require.Regexp(t, re, code)
		_, dup := seen[code]
		require.False(t, dup)
		seen[code] = struct{}{}
	}
}

func TestDeviceLocation_Offline(t *testing.T) {
	now := time.Now().UTC()
	l := &DeviceLocation{LastUpdate: now.Add(-1 * time.Minute)}
	require.False(t, l.Offline(now, 3*time.Minute))
	require.True(t, l.Offline(now, 30*time.Second))
}
