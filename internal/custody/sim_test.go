package custody

import (
	"context"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"vault-core-go/internal/models"
)

type delivered struct {
	settlementId uint64
	direction    models.SettlementDirection
	success      bool
}

func instruction(id uint64, direction models.SettlementDirection) TransferInstruction {
	return TransferInstruction{
		SettlementId: id,
		Direction:    direction,
		Asset:        models.AssetUSDC,
		Adapter:      "usdc.custody.near",
		Amount:       decimal.NewFromInt(100),
	}
}

func TestSimAdapterDeliversConfirmation(t *testing.T) {
	adapter := NewSimAdapter(models.CustodyConfig{ConfirmLatency: time.Millisecond, FailureRate: 0})
	outcomes := make(chan delivered, 1)
	adapter.Bind(func(_ context.Context, id uint64, direction models.SettlementDirection, success bool) {
		outcomes <- delivered{settlementId: id, direction: direction, success: success}
	})

	require.NoError(t, adapter.InitiateTransfer(context.Background(), instruction(1, models.DirectionDeposit)))

	select {
	case got := <-outcomes:
		assert.Equal(t, uint64(1), got.settlementId)
		assert.Equal(t, models.DirectionDeposit, got.direction)
		assert.True(t, got.success)
	case <-time.After(time.Second):
		t.Fatal("confirmation never delivered")
	}

	adapter.Close()
}

func TestSimAdapterFullFailureRate(t *testing.T) {
	// rand.Float64 is in [0, 1), so a failure rate of 1 fails every transfer.
	adapter := NewSimAdapter(models.CustodyConfig{ConfirmLatency: time.Millisecond, FailureRate: 1})
	outcomes := make(chan delivered, 1)
	adapter.Bind(func(_ context.Context, id uint64, direction models.SettlementDirection, success bool) {
		outcomes <- delivered{settlementId: id, direction: direction, success: success}
	})

	require.NoError(t, adapter.InitiateTransfer(context.Background(), instruction(2, models.DirectionWithdraw)))

	select {
	case got := <-outcomes:
		assert.Equal(t, uint64(2), got.settlementId)
		assert.False(t, got.success)
	case <-time.After(time.Second):
		t.Fatal("outcome never delivered")
	}

	adapter.Close()
}

func TestSimAdapterRequiresBinding(t *testing.T) {
	adapter := NewSimAdapter(models.CustodyConfig{ConfirmLatency: time.Millisecond})

	err := adapter.InitiateTransfer(context.Background(), instruction(1, models.DirectionDeposit))
	assert.Error(t, err)
}

func TestSimAdapterRejectsAfterClose(t *testing.T) {
	adapter := NewSimAdapter(models.CustodyConfig{ConfirmLatency: time.Millisecond})
	adapter.Bind(func(context.Context, uint64, models.SettlementDirection, bool) {})
	adapter.Close()

	err := adapter.InitiateTransfer(context.Background(), instruction(1, models.DirectionDeposit))
	assert.Error(t, err)
}

func TestSimAdapterCloseWaitsForOutstanding(t *testing.T) {
	adapter := NewSimAdapter(models.CustodyConfig{ConfirmLatency: 10 * time.Millisecond, FailureRate: 0})
	outcomes := make(chan delivered, 3)
	adapter.Bind(func(_ context.Context, id uint64, direction models.SettlementDirection, success bool) {
		outcomes <- delivered{settlementId: id, direction: direction, success: success}
	})

	for i := uint64(1); i <= 3; i++ {
		require.NoError(t, adapter.InitiateTransfer(context.Background(), instruction(i, models.DirectionDeposit)))
	}

	adapter.Close()
	assert.Len(t, outcomes, 3)
}
