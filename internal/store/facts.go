package store

import (
	"context"
	"time"

	"github.com/google/uuid"
	"github.com/rotisserie/eris"

	"github.com/sells-group/merchant-metrics/internal/db"
	"github.com/sells-group/merchant-metrics/internal/model"
)

var factTransactionColumns = []string{
	"id", "project_id", "transaction_id", "order_id", "date", "operation_type", "amount",
	"client_id", "product_name_raw", "product_name_norm", "product_id", "product_category",
	"manager_raw", "manager_norm", "manager_id", "payment_method",
	"group_1", "group_2", "group_3", "group_4", "group_5",
	"fee_1", "fee_2", "fee_3", "fee_total",
	"utm_source", "utm_medium", "utm_campaign", "utm_term", "utm_content", "created_at",
}

// InsertTransactions bulk-inserts fact rows with COPY.
func (s *PostgresStore) InsertTransactions(ctx context.Context, facts []model.Transaction) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, f.ProjectID, f.TransactionID, f.OrderID, f.Date, string(f.OperationType), f.Amount,
			f.ClientID, f.ProductNameRaw, f.ProductNameNorm, f.ProductID, f.ProductCategory,
			f.ManagerRaw, f.ManagerNorm, f.ManagerID, f.PaymentMethod,
			f.Group1, f.Group2, f.Group3, f.Group4, f.Group5,
			f.Fee1, f.Fee2, f.Fee3, f.FeeTotal,
			f.UTMSource, f.UTMMedium, f.UTMCampaign, f.UTMTerm, f.UTMContent, now,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "fact_transactions", factTransactionColumns, rows)
	return n, eris.Wrap(err, "postgres: insert transactions")
}

var factSpendColumns = []string{
	"id", "project_id", "date", "spend_amount",
	"channel_raw", "channel_norm", "utm_source", "utm_medium", "utm_campaign", "created_at",
}

// InsertMarketingSpend bulk-inserts spend rows with COPY.
func (s *PostgresStore) InsertMarketingSpend(ctx context.Context, facts []model.MarketingSpend) (int64, error) {
	if len(facts) == 0 {
		return 0, nil
	}
	now := time.Now().UTC()
	rows := make([][]any, 0, len(facts))
	for _, f := range facts {
		id := f.ID
		if id == "" {
			id = uuid.New().String()
		}
		rows = append(rows, []any{
			id, f.ProjectID, f.Date, f.SpendAmount,
			f.ChannelRaw, f.ChannelNorm, f.UTMSource, f.UTMMedium, f.UTMCampaign, now,
		})
	}
	n, err := db.CopyFrom(ctx, s.pool, "fact_marketing_spend", factSpendColumns, rows)
	return n, eris.Wrap(err, "postgres: insert marketing spend")
}

// ClearProjectData wipes everything the dashboard is built from: facts,
// stored insights and both dimensions. Runs in one transaction so the
// dashboard never shows a half-cleared project.
func (s *PostgresStore) ClearProjectData(ctx context.Context, projectID string) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return eris.Wrap(err, "postgres: clear project: begin tx")
	}
	defer tx.Rollback(ctx)

	statements := []string{
		`DELETE FROM fact_transactions WHERE project_id = $1`,
		`DELETE FROM fact_marketing_spend WHERE project_id = $1`,
		`DELETE FROM insights WHERE project_id = $1`,
		`DELETE FROM dim_product_aliases WHERE project_id = $1`,
		`DELETE FROM dim_products WHERE project_id = $1`,
		`DELETE FROM dim_manager_aliases WHERE project_id = $1`,
		`DELETE FROM dim_managers WHERE project_id = $1`,
	}
	for _, stmt := range statements {
		if _, err := tx.Exec(ctx, stmt, projectID); err != nil {
			return eris.Wrapf(err, "postgres: clear project %s", projectID)
		}
	}
	return eris.Wrap(tx.Commit(ctx), "postgres: clear project: commit")
}
