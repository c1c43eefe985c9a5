package app

import (
	"context"
	"path/filepath"
	"testing"
	"time"

	"github.com/segyhp/loan-ledger/internal/config"
	"github.com/segyhp/loan-ledger/internal/domain"
	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testConfig(backend string) *config.Config {
	return &config.Config{
		Business: config.BusinessConfig{
			AllowOverpayment:    true,
			DisbursementAccount: "bank",
			ProductsFile:        filepath.Join("..", "..", "deployments", "products.yaml"),
			StorageBackend:      backend,
			LockBackend:         config.BackendMemory,
			LockTimeout:         "2s",
			CommitRetries:       3,
			StatementCacheTTL:   "0s",
		},
	}
}

func TestNew_Backends(t *testing.T) {
	tests := []struct {
		name    string
		backend string
	}{
		{name: "memory", backend: config.BackendMemory},
		{name: "sqlite", backend: config.BackendSQLite},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig(tt.backend)
			cfg.Database.SQLitePath = filepath.Join(t.TempDir(), "ledger.db")
			log, _ := test.NewNullLogger()
			ctx := context.Background()

			a, err := New(ctx, cfg, log)
			require.NoError(t, err)
			defer a.Close()

			assert.Nil(t, a.Redis)
			if tt.backend == config.BackendSQLite {
				assert.NotNil(t, a.DB)
			} else {
				assert.Nil(t, a.DB)
			}

			products, err := a.Service.ListProducts(ctx)
			require.NoError(t, err)
			assert.NotEmpty(t, products)

			loan, err := a.Service.CreateLoan(ctx, &domain.CreateLoanRequest{
				ProductID:        "emergency",
				MemberID:         "M-100",
				Principal:        decimal.NewFromInt(10000),
				DisbursementDate: time.Date(2025, 8, 1, 0, 0, 0, 0, time.UTC),
			})
			require.NoError(t, err)

			loan, err = a.Service.ApproveLoan(ctx, loan.ID)
			require.NoError(t, err)
			assert.Equal(t, domain.LoanStatusActive, loan.Status)

			tb, err := a.Service.TrialBalance(ctx)
			require.NoError(t, err)
			assert.True(t, tb.Balanced)
		})
	}
}

func TestNew_MissingProductsFile(t *testing.T) {
	cfg := testConfig(config.BackendMemory)
	cfg.Business.ProductsFile = filepath.Join(t.TempDir(), "missing.yaml")
	log, _ := test.NewNullLogger()

	a, err := New(context.Background(), cfg, log)
	require.Error(t, err)
	assert.Nil(t, a)
	assert.Contains(t, err.Error(), "failed to load products")
}

func TestNew_UnknownDisbursementAccount(t *testing.T) {
	cfg := testConfig(config.BackendMemory)
	cfg.Business.DisbursementAccount = "loans_receivable"
	log, _ := test.NewNullLogger()

	a, err := New(context.Background(), cfg, log)
	require.Error(t, err)
	assert.Nil(t, a)
}

func TestInitRedis_URL(t *testing.T) {
	cfg := testConfig(config.BackendMemory)
	cfg.Redis.URL = "redis://:secret@cache.internal:6380/2"

	client, err := initRedis(cfg)
	require.NoError(t, err)
	defer client.Close()

	assert.Equal(t, "cache.internal:6380", client.Options().Addr)
	assert.Equal(t, 2, client.Options().DB)

	cfg.Redis.URL = "not-a-url"
	_, err = initRedis(cfg)
	assert.Error(t, err)
}
