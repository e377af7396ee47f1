package models

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCanTransition_ForwardChain(t *testing.T) {
	chain := []ShipmentStatus{
		ShipmentStatusPreparing,
		ShipmentStatusReadyToShip,
		ShipmentStatusPickedUp,
		ShipmentStatusInTransit,
		ShipmentStatusOutForDelivery,
		ShipmentStatusDelivered,
	}
	for i := 0; i < len(chain)-1; i++ {
		require.True(t, CanTransition(chain[i], chain[i+1]), "%s -> %s", chain[i], chain[i+1])
	}
}

func TestCanTransition_NoBackwardOrSkip(t *testing.T) {
	require.False(t, CanTransition(ShipmentStatusDelivered, ShipmentStatusPreparing))
	require.False(t, CanTransition(ShipmentStatusInTransit, ShipmentStatusPickedUp))
	require.False(t, CanTransition(ShipmentStatusPreparing, ShipmentStatusInTransit))
	// same state is not a transition
	require.False(t, CanTransition(ShipmentStatusInTransit, ShipmentStatusInTransit))
}

func TestCanTransition_CancelledEscape(t *testing.T) {
	for _, from := range []ShipmentStatus{
		ShipmentStatusPreparing,
		ShipmentStatusReadyToShip,
		ShipmentStatusPickedUp,
		ShipmentStatusInTransit,
		ShipmentStatusOutForDelivery,
	} {
		require.True(t, CanTransition(from, ShipmentStatusCancelled), "%s -> cancelled", from)
	}
	require.False(t, CanTransition(ShipmentStatusDelivered, ShipmentStatusCancelled))
	require.False(t, CanTransition(ShipmentStatusCancelled, ShipmentStatusPreparing))
}

func TestShipmentStatus_Valid(t *testing.T) {
	require.True(t, ShipmentStatusPreparing.Valid())
	require.True(t, ShipmentStatusCancelled.Valid())
	require.False(t, ShipmentStatus("shipped").Valid())
	require.False(t, ShipmentStatus("").Valid())
}
