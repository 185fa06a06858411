// Package ingest drives the upload pipeline end to end: reading the
// stored file, running the quality engine, quarantining rejected rows,
// collapsing duplicates per the project's dedup policy and writing the
// surviving rows as facts.
package ingest

import (
	"context"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/dedup"
	"github.com/sells-group/merchant-metrics/internal/fetcher"
	"github.com/sells-group/merchant-metrics/internal/model"
	"github.com/sells-group/merchant-metrics/internal/quality"
)

// ErrMappingRequired is returned when an upload has no saved column
// mapping yet.
var ErrMappingRequired = eris.New("ingest: column mapping not saved")

// Store is the persistence surface the importer needs.
type Store interface {
	GetMapping(ctx context.Context, uploadID string) (*model.ColumnMapping, error)
	DedupPolicy(ctx context.Context, projectID string) (model.DedupPolicy, error)
	ResolveProductAlias(ctx context.Context, projectID, alias string) (*string, error)
	ResolveManagerAlias(ctx context.Context, projectID, alias string) (*string, error)
	GetProduct(ctx context.Context, projectID, productID string) (*model.Product, error)
	GetManager(ctx context.Context, projectID, managerID string) (*model.Manager, error)
	InsertTransactions(ctx context.Context, facts []model.Transaction) (int64, error)
	InsertMarketingSpend(ctx context.Context, facts []model.MarketingSpend) (int64, error)
	InsertQuarantineRows(ctx context.Context, rows []model.QuarantineRow) error
	SetUploadStatus(ctx context.Context, uploadID string, status model.UploadStatus) error
}

// Importer converts validated upload rows into fact rows.
type Importer struct {
	store Store
}

func NewImporter(store Store) *Importer {
	return &Importer{store: store}
}

// Result reports an import run.
type Result struct {
	Imported    int `json:"imported"`
	Quarantined int `json:"quarantined"`
}

// Validate re-runs the quality engine over an upload and moves its
// status to validated or failed depending on whether errors were found.
func (im *Importer) Validate(ctx context.Context, upload *model.Upload) (*quality.Report, error) {
	cfg, err := im.mappingConfig(ctx, upload.ID)
	if err != nil {
		return nil, err
	}
	headers, rows, err := fetcher.ReadTable(upload.FilePath)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read upload %s", upload.ID)
	}
	report, _ := quality.Analyze(upload.Type, *cfg, headers, rows)

	status := model.UploadStatusValidated
	if len(report.Errors) > 0 {
		status = model.UploadStatusFailed
	}
	if err := im.store.SetUploadStatus(ctx, upload.ID, status); err != nil {
		return nil, err
	}
	return &report, nil
}

// Import runs the full pipeline for one upload. Rows with errors land
// in quarantine; the rest are collapsed per the project's dedup policy
// and inserted as facts.
func (im *Importer) Import(ctx context.Context, upload *model.Upload) (*Result, error) {
	cfg, err := im.mappingConfig(ctx, upload.ID)
	if err != nil {
		return nil, err
	}
	headers, rows, err := fetcher.ReadTable(upload.FilePath)
	if err != nil {
		return nil, eris.Wrapf(err, "ingest: read upload %s", upload.ID)
	}
	_, results := quality.Analyze(upload.Type, *cfg, headers, rows)

	var quarantine []model.QuarantineRow
	ready := make([]quality.RowResult, 0, len(results))
	for _, result := range results {
		if result.Skip {
			quarantine = append(quarantine, model.QuarantineRow{
				UploadID:  upload.ID,
				RowNumber: result.RowIndex,
				Issues:    result.Issues,
				Payload:   quality.PayloadMap(result.Payload),
			})
			continue
		}
		ready = append(ready, result)
	}

	policy, err := im.store.DedupPolicy(ctx, upload.ProjectID)
	if err != nil {
		return nil, err
	}
	ready = dedup.Collapse(ready, policy)

	var inserted int64
	switch upload.Type {
	case model.UploadMarketingSpend:
		inserted, err = im.importSpend(ctx, upload.ProjectID, ready)
	default:
		inserted, err = im.importTransactions(ctx, upload.ProjectID, ready)
	}
	if err != nil {
		return nil, err
	}

	if err := im.store.InsertQuarantineRows(ctx, quarantine); err != nil {
		return nil, err
	}
	if err := im.store.SetUploadStatus(ctx, upload.ID, model.UploadStatusImported); err != nil {
		return nil, err
	}

	zap.L().Info("upload imported",
		zap.String("upload_id", upload.ID),
		zap.String("project_id", upload.ProjectID),
		zap.Int64("rows", inserted),
		zap.Int("quarantined", len(quarantine)),
	)
	return &Result{Imported: int(inserted), Quarantined: len(quarantine)}, nil
}

func (im *Importer) mappingConfig(ctx context.Context, uploadID string) (*model.MappingConfig, error) {
	mapping, err := im.store.GetMapping(ctx, uploadID)
	if err != nil {
		return nil, err
	}
	if mapping == nil {
		return nil, ErrMappingRequired
	}
	return &mapping.Config, nil
}

func (im *Importer) importTransactions(ctx context.Context, projectID string, ready []quality.RowResult) (int64, error) {
	products := newDimensionCache(im.store.ResolveProductAlias, func(ctx context.Context, projectID, id string) (string, error) {
		product, err := im.store.GetProduct(ctx, projectID, id)
		if err != nil || product == nil {
			return "", err
		}
		return product.CanonicalName, nil
	})
	managers := newDimensionCache(im.store.ResolveManagerAlias, func(ctx context.Context, projectID, id string) (string, error) {
		manager, err := im.store.GetManager(ctx, projectID, id)
		if err != nil || manager == nil {
			return "", err
		}
		return manager.CanonicalName, nil
	})

	facts := make([]model.Transaction, 0, len(ready))
	for _, row := range ready {
		product, err := products.resolve(ctx, projectID, row.Payload["product_name"].Normalized)
		if err != nil {
			return 0, err
		}
		manager, err := managers.resolve(ctx, projectID, row.Payload["manager"].Normalized)
		if err != nil {
			return 0, err
		}

		facts = append(facts, model.Transaction{
			ProjectID:       projectID,
			TransactionID:   optional(row, "transaction_id", 128),
			OrderID:         optional(row, "order_id", 128),
			Date:            row.Parsed.PaidAt,
			OperationType:   row.Parsed.OperationType,
			Amount:          row.Parsed.Amount,
			ClientID:        optional(row, "client_id", 128),
			ProductNameRaw:  rawValue(row, "product_name"),
			ProductNameNorm: product.norm,
			ProductID:       product.id,
			ProductCategory: optional(row, "product_category", 255),
			ManagerRaw:      rawValue(row, "manager"),
			ManagerNorm:     manager.norm,
			ManagerID:       manager.id,
			PaymentMethod:   optional(row, "payment_method", 255),
			Group1:          optional(row, "group_1", 255),
			Group2:          optional(row, "group_2", 255),
			Group3:          optional(row, "group_3", 255),
			Group4:          optional(row, "group_4", 255),
			Group5:          optional(row, "group_5", 255),
			Fee1:            row.Parsed.Fee1,
			Fee2:            row.Parsed.Fee2,
			Fee3:            row.Parsed.Fee3,
			FeeTotal:        row.Parsed.FeeTotal,
			UTMSource:       optional(row, "utm_source", 255),
			UTMMedium:       optional(row, "utm_medium", 255),
			UTMCampaign:     optional(row, "utm_campaign", 255),
			UTMTerm:         optional(row, "utm_term", 255),
			UTMContent:      optional(row, "utm_content", 255),
		})
	}
	return im.store.InsertTransactions(ctx, facts)
}

func (im *Importer) importSpend(ctx context.Context, projectID string, ready []quality.RowResult) (int64, error) {
	facts := make([]model.MarketingSpend, 0, len(ready))
	for _, row := range ready {
		facts = append(facts, model.MarketingSpend{
			ProjectID:   projectID,
			Date:        row.Parsed.Date,
			SpendAmount: row.Parsed.SpendAmount,
		})
	}
	return im.store.InsertMarketingSpend(ctx, facts)
}

// resolved is the dimension outcome for one raw name: the linked
// dimension id when an alias matched, plus the normalized display name.
type resolved struct {
	id   *string
	norm *string
}

// dimensionCache memoizes alias resolution per raw key so a batch with
// thousands of rows for the same few products hits the store once per
// distinct name.
type dimensionCache struct {
	resolveAlias func(ctx context.Context, projectID, alias string) (*string, error)
	lookupName   func(ctx context.Context, projectID, id string) (string, error)
	cache        map[string]resolved
}

func newDimensionCache(
	resolveAlias func(ctx context.Context, projectID, alias string) (*string, error),
	lookupName func(ctx context.Context, projectID, id string) (string, error),
) *dimensionCache {
	return &dimensionCache{
		resolveAlias: resolveAlias,
		lookupName:   lookupName,
		cache:        make(map[string]resolved),
	}
}

func (c *dimensionCache) resolve(ctx context.Context, projectID, key string) (resolved, error) {
	if key == "" {
		return resolved{}, nil
	}
	if hit, ok := c.cache[key]; ok {
		return hit, nil
	}
	id, err := c.resolveAlias(ctx, projectID, key)
	if err != nil {
		return resolved{}, err
	}
	out := resolved{id: id}
	norm := key
	if id != nil {
		canonical, err := c.lookupName(ctx, projectID, *id)
		if err != nil {
			return resolved{}, err
		}
		if canonical != "" {
			norm = canonical
		}
	}
	out.norm = truncate(norm, 255)
	c.cache[key] = out
	return out, nil
}

func optional(row quality.RowResult, field string, max int) *string {
	return truncate(row.Payload[field].Normalized, max)
}

func rawValue(row quality.RowResult, field string) *string {
	return truncate(row.Payload[field].Raw, 255)
}

func truncate(value string, max int) *string {
	if value == "" {
		return nil
	}
	if len([]rune(value)) > max {
		value = string([]rune(value)[:max])
	}
	return &value
}
