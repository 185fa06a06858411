// Package dedup builds the policy-aware view of fact_transactions that
// every downstream aggregation reads, and collapses batches at import
// time under the same policies.
package dedup

import (
	"github.com/sells-group/merchant-metrics/internal/model"
	"github.com/sells-group/merchant-metrics/internal/quality"
)

// keyExpr is the dedup key: transaction_id, else order_id, else the row
// id so keyless rows never collapse with each other.
const keyExpr = "COALESCE(transaction_id, order_id, id::text)"

// Source returns a parenthesized subquery over fact_transactions that
// applies the project's dedup policy. The fragment consumes exactly one
// placeholder, $1, for the project id; callers number their own
// placeholders from $2.
func Source(policy model.DedupPolicy) string {
	switch policy {
	case model.DedupLastRowWins:
		return `(
			SELECT * FROM (
				SELECT *, ROW_NUMBER() OVER (
					PARTITION BY ` + keyExpr + `
					ORDER BY created_at DESC, id DESC
				) AS row_rank
				FROM fact_transactions
				WHERE project_id = $1
			) ranked WHERE row_rank = 1
		)`
	case model.DedupAggregateByTx:
		return `(
			SELECT
				MAX(id) AS id,
				project_id,
				MAX(transaction_id) AS transaction_id,
				MAX(order_id) AS order_id,
				MAX(date) AS date,
				operation_type,
				SUM(amount) AS amount,
				MAX(client_id) AS client_id,
				MAX(product_name_raw) AS product_name_raw,
				MAX(product_name_norm) AS product_name_norm,
				MAX(product_id) AS product_id,
				MAX(product_category) AS product_category,
				MAX(manager_raw) AS manager_raw,
				MAX(manager_norm) AS manager_norm,
				MAX(manager_id) AS manager_id,
				MAX(payment_method) AS payment_method,
				MAX(group_1) AS group_1,
				MAX(group_2) AS group_2,
				MAX(group_3) AS group_3,
				MAX(group_4) AS group_4,
				MAX(group_5) AS group_5,
				SUM(fee_1) AS fee_1,
				SUM(fee_2) AS fee_2,
				SUM(fee_3) AS fee_3,
				SUM(fee_total) AS fee_total,
				MAX(utm_source) AS utm_source,
				MAX(utm_medium) AS utm_medium,
				MAX(utm_campaign) AS utm_campaign,
				MAX(utm_term) AS utm_term,
				MAX(utm_content) AS utm_content,
				MAX(created_at) AS created_at
			FROM fact_transactions
			WHERE project_id = $1
			GROUP BY project_id, ` + keyExpr + `, operation_type
		)`
	default:
		return `(SELECT * FROM fact_transactions WHERE project_id = $1)`
	}
}

// Collapse reduces a batch of validated rows before insert, mirroring
// what Source does at read time. keep_all_rows passes everything
// through; last_row_wins keeps the final row per key; aggregation sums
// amounts and fees across rows sharing a transaction id. Keyless rows
// always pass through untouched.
func Collapse(rows []quality.RowResult, policy model.DedupPolicy) []quality.RowResult {
	switch policy {
	case model.DedupLastRowWins:
		return collapseLastRow(rows)
	case model.DedupAggregateByTx:
		return collapseAggregate(rows)
	default:
		return rows
	}
}

func collapseLastRow(rows []quality.RowResult) []quality.RowResult {
	var passthrough []quality.RowResult
	latest := make(map[string]quality.RowResult)
	var keyOrder []string
	for _, row := range rows {
		key := quality.DedupKey(row, true)
		if key == "" {
			passthrough = append(passthrough, row)
			continue
		}
		if _, seen := latest[key]; !seen {
			keyOrder = append(keyOrder, key)
		}
		latest[key] = row
	}
	for _, key := range keyOrder {
		passthrough = append(passthrough, latest[key])
	}
	return passthrough
}

func collapseAggregate(rows []quality.RowResult) []quality.RowResult {
	var passthrough []quality.RowResult
	aggregated := make(map[string]*quality.RowResult)
	var keyOrder []string
	for _, row := range rows {
		key := quality.DedupKey(row, false)
		if key == "" {
			passthrough = append(passthrough, row)
			continue
		}
		base, seen := aggregated[key]
		if !seen {
			copied := row
			aggregated[key] = &copied
			keyOrder = append(keyOrder, key)
			continue
		}
		base.Parsed.Amount += row.Parsed.Amount
		base.Parsed.Fee1 += row.Parsed.Fee1
		base.Parsed.Fee2 += row.Parsed.Fee2
		base.Parsed.Fee3 += row.Parsed.Fee3
		base.Parsed.FeeTotal += row.Parsed.FeeTotal
	}
	for _, key := range keyOrder {
		passthrough = append(passthrough, *aggregated[key])
	}
	return passthrough
}
