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

package database

const (
	queryCheckDuplicateSettlement = `
		SELECT id
		FROM settlements
		WHERE settlement_id = ? AND outcome = ?`

	queryInsertSettlement = `
		INSERT INTO settlements (id, settlement_id, account, asset, direction, outcome, amount, share_delta, created_at, resolved_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`

	querySettlementHistory = `
		SELECT id, settlement_id, account, asset, direction, outcome, amount, share_delta, created_at, resolved_at
		FROM settlements
		WHERE (? = '' OR account = ?) AND (? = '' OR asset = ?)
		ORDER BY resolved_at DESC, settlement_id DESC
		LIMIT ? OFFSET ?`

	queryNetPositionRows = `
		SELECT outcome, direction, amount
		FROM settlements
		WHERE account = ? AND asset = ?`
)
