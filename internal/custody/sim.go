/**
 * Copyright 2025-present Coinbase Global, Inc.
 *
 * Licensed under the Apache License, Version 2.0 (the "License");
 * you may not use this file except in compliance with the License.
 * You may obtain a copy of the License at
 *
 *  http://www.apache.org/licenses/LICENSE-2.0
 *
 * Unless required by applicable law or agreed to in writing, software
 * distributed under the License is distributed on an "AS IS" BASIS,
 * WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
 * See the License for the specific language governing permissions and
 * limitations under the License.
 */

package custody

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"time"

	"go.uber.org/zap"

	"vault-core-go/internal/models"
)

// SimAdapter simulates an asynchronously-confirming custody backend. Every
// initiated transfer is confirmed (or failed, per FailureRate) after
// ConfirmLatency on a separate goroutine, which is how a token contract
// callback or yield-strategy receipt behaves from the vault's perspective.
type SimAdapter struct {
	mu      sync.Mutex
	latency time.Duration
	rng     *rand.Rand
	failure float64
	resolve ResolveFunc
	wg      sync.WaitGroup
	closed  bool
}

func NewSimAdapter(cfg models.CustodyConfig) *SimAdapter {
	return &SimAdapter{
		latency: cfg.ConfirmLatency,
		failure: cfg.FailureRate,
		rng:     rand.New(rand.NewSource(time.Now().UnixNano())),
	}
}

// Bind wires the adapter's confirmations to the settlement callbacks. Must be
// called before the first InitiateTransfer.
func (a *SimAdapter) Bind(resolve ResolveFunc) {
	a.mu.Lock()
	defer a.mu.Unlock()
	a.resolve = resolve
}

// InitiateTransfer accepts the instruction and schedules its asynchronous
// outcome. The call itself never waits for custody.
func (a *SimAdapter) InitiateTransfer(ctx context.Context, instruction TransferInstruction) error {
	a.mu.Lock()
	defer a.mu.Unlock()

	if a.closed {
		return errors.New("custody adapter is closed")
	}
	if a.resolve == nil {
		return errors.New("custody adapter has no resolve binding")
	}

	success := a.rng.Float64() >= a.failure

	zap.L().Info("Custody transfer initiated",
		zap.Uint64("settlement_id", instruction.SettlementId),
		zap.String("direction", string(instruction.Direction)),
		zap.String("asset", string(instruction.Asset)),
		zap.String("adapter", instruction.Adapter),
		zap.String("amount", instruction.Amount.String()))

	a.wg.Add(1)
	go func(resolve ResolveFunc) {
		defer a.wg.Done()
		timer := time.NewTimer(a.latency)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-ctx.Done():
			// The transfer was already issued; deliver the outcome anyway.
		}
		resolve(context.Background(), instruction.SettlementId, instruction.Direction, success)
	}(a.resolve)

	return nil
}

// Close waits for every outstanding confirmation to be delivered.
func (a *SimAdapter) Close() {
	a.mu.Lock()
	a.closed = true
	a.mu.Unlock()
	a.wg.Wait()
}
