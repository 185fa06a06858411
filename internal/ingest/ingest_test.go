package ingest

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/sells-group/merchant-metrics/internal/model"
)

func init() {
	zap.ReplaceGlobals(zap.NewNop())
}

type stubStore struct {
	mapping      *model.ColumnMapping
	policy       model.DedupPolicy
	productIDs   map[string]string
	productNames map[string]string
	resolveCalls int

	transactions []model.Transaction
	spend        []model.MarketingSpend
	quarantine   []model.QuarantineRow
	statuses     []model.UploadStatus
}

func (s *stubStore) GetMapping(_ context.Context, _ string) (*model.ColumnMapping, error) {
	return s.mapping, nil
}

func (s *stubStore) DedupPolicy(_ context.Context, _ string) (model.DedupPolicy, error) {
	if s.policy == "" {
		return model.DedupKeepAllRows, nil
	}
	return s.policy, nil
}

func (s *stubStore) ResolveProductAlias(_ context.Context, _, alias string) (*string, error) {
	s.resolveCalls++
	if id, ok := s.productIDs[alias]; ok {
		return &id, nil
	}
	return nil, nil
}

func (s *stubStore) ResolveManagerAlias(_ context.Context, _, _ string) (*string, error) {
	return nil, nil
}

func (s *stubStore) GetProduct(_ context.Context, _, id string) (*model.Product, error) {
	name, ok := s.productNames[id]
	if !ok {
		return nil, nil
	}
	return &model.Product{ID: id, CanonicalName: name}, nil
}

func (s *stubStore) GetManager(_ context.Context, _, _ string) (*model.Manager, error) {
	return nil, nil
}

func (s *stubStore) InsertTransactions(_ context.Context, facts []model.Transaction) (int64, error) {
	s.transactions = append(s.transactions, facts...)
	return int64(len(facts)), nil
}

func (s *stubStore) InsertMarketingSpend(_ context.Context, facts []model.MarketingSpend) (int64, error) {
	s.spend = append(s.spend, facts...)
	return int64(len(facts)), nil
}

func (s *stubStore) InsertQuarantineRows(_ context.Context, rows []model.QuarantineRow) error {
	s.quarantine = append(s.quarantine, rows...)
	return nil
}

func (s *stubStore) SetUploadStatus(_ context.Context, _ string, status model.UploadStatus) error {
	s.statuses = append(s.statuses, status)
	return nil
}

func writeCSV(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "upload.csv")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func transactionMapping() *model.ColumnMapping {
	return &model.ColumnMapping{
		UploadID: "u1",
		Config: model.MappingConfig{
			Mapping: map[string]string{
				"Дата":       "paid_at",
				"Тип":        "operation_type",
				"Сумма":      "amount",
				"Продукт":    "product_name",
				"Транзакция": "transaction_id",
			},
			UnknownOperationPolicy: "error",
		},
	}
}

func TestImport_WritesFactsAndQuarantine(t *testing.T) {
	csv := "Дата,Тип,Сумма,Продукт,Транзакция\n" +
		"2025-03-01,оплата,100,Курс А,t1\n" +
		"2025-03-02,возврат,50,Курс Б,t2\n" +
		"не дата,оплата,70,Курс А,t3\n"

	store := &stubStore{
		mapping:      transactionMapping(),
		productIDs:   map[string]string{"Курс А": "p1"},
		productNames: map[string]string{"p1": "Курс Альфа"},
	}
	upload := &model.Upload{ID: "u1", ProjectID: "proj", Type: model.UploadTransactions, FilePath: writeCSV(t, csv)}

	result, err := NewImporter(store).Import(context.Background(), upload)
	require.NoError(t, err)

	assert.Equal(t, 2, result.Imported)
	assert.Equal(t, 1, result.Quarantined)
	require.Len(t, store.transactions, 2)
	require.Len(t, store.quarantine, 1)
	assert.Equal(t, 4, store.quarantine[0].RowNumber)
	assert.Equal(t, []model.UploadStatus{model.UploadStatusImported}, store.statuses)

	first := store.transactions[0]
	assert.Equal(t, model.OperationSale, first.OperationType)
	assert.Equal(t, 100.0, first.Amount)
	require.NotNil(t, first.ProductID)
	assert.Equal(t, "p1", *first.ProductID)
	require.NotNil(t, first.ProductNameNorm)
	assert.Equal(t, "Курс Альфа", *first.ProductNameNorm)
	require.NotNil(t, first.TransactionID)
	assert.Equal(t, "t1", *first.TransactionID)

	second := store.transactions[1]
	assert.Equal(t, model.OperationRefund, second.OperationType)
	require.NotNil(t, second.ProductNameNorm)
	assert.Equal(t, "Курс Б", *second.ProductNameNorm)
	assert.Nil(t, second.ProductID)
}

func TestImport_CachesAliasResolution(t *testing.T) {
	csv := "Дата,Тип,Сумма,Продукт,Транзакция\n" +
		"2025-03-01,оплата,100,Курс А,t1\n" +
		"2025-03-02,оплата,200,Курс А,t2\n" +
		"2025-03-03,оплата,300,Курс А,t3\n"

	store := &stubStore{mapping: transactionMapping()}
	upload := &model.Upload{ID: "u1", ProjectID: "proj", Type: model.UploadTransactions, FilePath: writeCSV(t, csv)}

	_, err := NewImporter(store).Import(context.Background(), upload)
	require.NoError(t, err)
	assert.Equal(t, 1, store.resolveCalls)
}

func TestImport_AggregatePolicySumsByTransaction(t *testing.T) {
	csv := "Дата,Тип,Сумма,Продукт,Транзакция\n" +
		"2025-03-01,оплата,100,Курс А,t1\n" +
		"2025-03-01,оплата,40,Курс А,t1\n" +
		"2025-03-02,оплата,10,Курс А,t2\n"

	store := &stubStore{mapping: transactionMapping(), policy: model.DedupAggregateByTx}
	upload := &model.Upload{ID: "u1", ProjectID: "proj", Type: model.UploadTransactions, FilePath: writeCSV(t, csv)}

	result, err := NewImporter(store).Import(context.Background(), upload)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)

	byTx := make(map[string]float64)
	for _, fact := range store.transactions {
		byTx[*fact.TransactionID] = fact.Amount
	}
	assert.Equal(t, 140.0, byTx["t1"])
	assert.Equal(t, 10.0, byTx["t2"])
}

func TestImport_MarketingSpend(t *testing.T) {
	csv := "Дата,Расход\n2025-03-01,500\n2025-03-02,250\n"
	store := &stubStore{
		mapping: &model.ColumnMapping{
			UploadID: "u2",
			Config: model.MappingConfig{
				Mapping:                map[string]string{"Дата": "date", "Расход": "spend_amount"},
				UnknownOperationPolicy: "error",
			},
		},
	}
	upload := &model.Upload{ID: "u2", ProjectID: "proj", Type: model.UploadMarketingSpend, FilePath: writeCSV(t, csv)}

	result, err := NewImporter(store).Import(context.Background(), upload)
	require.NoError(t, err)
	assert.Equal(t, 2, result.Imported)
	require.Len(t, store.spend, 2)
	assert.Equal(t, 500.0, store.spend[0].SpendAmount)
}

func TestImport_RequiresMapping(t *testing.T) {
	store := &stubStore{}
	upload := &model.Upload{ID: "u1", ProjectID: "proj", Type: model.UploadTransactions}

	_, err := NewImporter(store).Import(context.Background(), upload)
	require.ErrorIs(t, err, ErrMappingRequired)
}

func TestValidate_MarksFailedOnErrors(t *testing.T) {
	csv := "Дата,Тип,Сумма,Продукт,Транзакция\n" +
		"не дата,оплата,100,Курс А,t1\n"

	store := &stubStore{mapping: transactionMapping()}
	upload := &model.Upload{ID: "u1", ProjectID: "proj", Type: model.UploadTransactions, FilePath: writeCSV(t, csv)}

	report, err := NewImporter(store).Validate(context.Background(), upload)
	require.NoError(t, err)
	require.NotEmpty(t, report.Errors)
	assert.Equal(t, "Дата платежа не распознана.", report.Errors[0].Message)
	assert.Equal(t, []model.UploadStatus{model.UploadStatusFailed}, store.statuses)
}

func TestValidate_MarksValidated(t *testing.T) {
	csv := "Дата,Тип,Сумма,Продукт,Транзакция\n" +
		"2025-03-01,оплата,100,Курс А,t1\n"

	store := &stubStore{mapping: transactionMapping()}
	upload := &model.Upload{ID: "u1", ProjectID: "proj", Type: model.UploadTransactions, FilePath: writeCSV(t, csv)}

	report, err := NewImporter(store).Validate(context.Background(), upload)
	require.NoError(t, err)
	assert.Empty(t, report.Errors)
	assert.Equal(t, 1, report.Stats.ValidRows)
	assert.Equal(t, []model.UploadStatus{model.UploadStatusValidated}, store.statuses)
}
