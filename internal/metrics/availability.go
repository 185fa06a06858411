package metrics

import (
	"context"
	"sort"

	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/db"
	"github.com/sells-group/merchant-metrics/internal/model"
)

// Presence maps a logical field name to whether any imported row of the
// project carries a value for it.
type Presence map[string]bool

var presenceTxFields = []string{
	"order_id", "transaction_id", "client_id", "product_name_norm", "manager_norm",
	"payment_method", "group_1", "group_2", "group_3", "group_4", "group_5",
	"fee_1", "fee_2", "fee_3",
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
}

var presenceSpendFields = []string{
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
}

// compositeRequirements expands umbrella requirements to the concrete
// columns they stand for, used when reporting missing fields.
var compositeRequirements = map[string][]string{
	"fee_any":   {"fee_1", "fee_2", "fee_3"},
	"group_any": {"group_1", "group_2", "group_3", "group_4", "group_5"},
	"utm_any_transactions": {
		"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	},
	"utm_any_spend": {
		"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content",
	},
	"marketing_spend": {"fact_marketing_spend"},
}

// FieldPresence probes both fact tables with a single aggregate query
// each and reports which logical fields the project's data covers.
func FieldPresence(ctx context.Context, pool db.Pool, projectID string) (Presence, error) {
	txQuery := `SELECT count(*)`
	for _, field := range presenceTxFields {
		txQuery += `, max(CASE WHEN ` + field + ` IS NOT NULL THEN 1 ELSE 0 END)`
	}
	txQuery += ` FROM fact_transactions WHERE project_id = $1`

	txCount := 0
	txFlags := make([]int, len(presenceTxFields))
	dest := make([]any, 0, len(presenceTxFields)+1)
	dest = append(dest, &txCount)
	for i := range txFlags {
		dest = append(dest, &txFlags[i])
	}
	if err := pool.QueryRow(ctx, txQuery, projectID).Scan(dest...); err != nil {
		return nil, eris.Wrap(err, "metrics: probe transactions")
	}

	spendQuery := `SELECT count(*)`
	for _, field := range presenceSpendFields {
		spendQuery += `, max(CASE WHEN ` + field + ` IS NOT NULL THEN 1 ELSE 0 END)`
	}
	spendQuery += ` FROM fact_marketing_spend WHERE project_id = $1`

	spendCount := 0
	spendFlags := make([]int, len(presenceSpendFields))
	dest = dest[:0]
	dest = append(dest, &spendCount)
	for i := range spendFlags {
		dest = append(dest, &spendFlags[i])
	}
	if err := pool.QueryRow(ctx, spendQuery, projectID).Scan(dest...); err != nil {
		return nil, eris.Wrap(err, "metrics: probe marketing spend")
	}

	flag := func(field string) bool {
		for i, name := range presenceTxFields {
			if name == field {
				return txFlags[i] == 1
			}
		}
		return false
	}
	anyOf := func(fields ...string) bool {
		for _, field := range fields {
			if flag(field) {
				return true
			}
		}
		return false
	}
	spendAny := false
	for _, v := range spendFlags {
		if v == 1 {
			spendAny = true
			break
		}
	}

	return Presence{
		"paid_at":              txCount > 0,
		"amount":               txCount > 0,
		"operation_type":       txCount > 0,
		"order_id":             flag("order_id"),
		"transaction_id":       flag("transaction_id"),
		"client_id":            flag("client_id"),
		"product_name":         flag("product_name_norm"),
		"manager":              flag("manager_norm"),
		"payment_method":       flag("payment_method"),
		"fee_1":                flag("fee_1"),
		"fee_2":                flag("fee_2"),
		"fee_3":                flag("fee_3"),
		"fee_any":              anyOf("fee_1", "fee_2", "fee_3"),
		"group_any":            anyOf("group_1", "group_2", "group_3", "group_4", "group_5"),
		"utm_any_transactions": anyOf("utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content"),
		"marketing_spend":      spendCount > 0,
		"utm_any_spend":        spendAny,
	}, nil
}

// Evaluate grades a metric's requirements against field presence. A
// metric on order_id degrades to partial, not unavailable, when the
// data carries transaction_id instead of order_id.
func Evaluate(requirements []string, presence Presence) model.MetricAvailability {
	if len(requirements) == 0 {
		return model.MetricAvailability{Status: model.AvailabilityAvailable, MissingFields: []string{}}
	}

	missing := make([]string, 0)
	satisfied := 0
	partialOverride := false
	for _, req := range requirements {
		if req == "order_id" && !presence["order_id"] {
			if presence["transaction_id"] {
				partialOverride = true
			}
			missing = append(missing, "order_id")
			continue
		}
		if presence[req] {
			satisfied++
			continue
		}
		if expanded, ok := compositeRequirements[req]; ok {
			missing = append(missing, expanded...)
		} else {
			missing = append(missing, req)
		}
	}

	if satisfied == len(requirements) {
		return model.MetricAvailability{Status: model.AvailabilityAvailable, MissingFields: []string{}}
	}
	status := model.AvailabilityPartial
	if satisfied == 0 && !partialOverride {
		status = model.AvailabilityUnavailable
	}
	return model.MetricAvailability{Status: status, MissingFields: dedupeSorted(missing)}
}

func dedupeSorted(fields []string) []string {
	seen := make(map[string]struct{}, len(fields))
	out := make([]string, 0, len(fields))
	for _, field := range fields {
		if _, ok := seen[field]; ok {
			continue
		}
		seen[field] = struct{}{}
		out = append(out, field)
	}
	sort.Strings(out)
	return out
}
