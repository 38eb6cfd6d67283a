package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLoadDoesNotInjectWeakAuthDefaults(t *testing.T) {
	t.Setenv("AUTH_SECRET", "")
	t.Setenv("MANAGER_PIN", "")

	cfg := Load()
	assert.Empty(t, cfg.AuthSecret)
	assert.Empty(t, cfg.ManagerPIN)
}

func TestLoadDefaults(t *testing.T) {
	t.Setenv("PORT", "")
	t.Setenv("OPERATION_TIMEOUT_MS", "")
	t.Setenv("CART_IDLE_TTL_MINUTES", "")

	cfg := Load()
	assert.Equal(t, ":8080", cfg.Address())
	assert.Equal(t, 5*time.Second, cfg.OperationTimeout)
	assert.Equal(t, 8*time.Hour, cfg.CartIdleTTL)
	assert.Equal(t, "cash-drawer", cfg.CashAccountID)
	assert.Equal(t, "bank-main", cfg.BankAccountID)
	assert.True(t, cfg.TaxRatePercent.IsZero())
}

func TestLoadReadsEnvironment(t *testing.T) {
	t.Setenv("PORT", "9090")
	t.Setenv("APP_ENV", "Production")
	t.Setenv("OPERATION_TIMEOUT_MS", "250")
	t.Setenv("TAX_RATE_PERCENT", "11")
	t.Setenv("RESTOCKING_FEE_PERCENT", "12.5")
	t.Setenv("DISCOUNT_PERCENT", "150")
	t.Setenv("RUN_MIGRATIONS", "true")
	t.Setenv("CART_IDLE_TTL_MINUTES", "30")

	cfg := Load()
	assert.Equal(t, ":9090", cfg.Address())
	assert.True(t, cfg.IsProduction())
	assert.True(t, cfg.RunMigrations)
	assert.Equal(t, 250*time.Millisecond, cfg.OperationTimeout)
	assert.Equal(t, 30*time.Minute, cfg.CartIdleTTL)
	assert.True(t, cfg.TaxRatePercent.Equal(decimal.NewFromInt(11)))
	assert.True(t, cfg.RestockingFeePercent.Equal(decimal.RequireFromString("12.5")))
	assert.True(t, cfg.DiscountPercent.IsZero(), "out of range percentages fall back to zero")
}

func TestLoadDotEnvDoesNotOverride(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, ".env")
	require.NoError(t, os.WriteFile(path, []byte("BIZZAI_DOTENV_PROBE=from-file\nPORT=7070\n"), 0o600))
	t.Setenv("PORT", "6060")
	t.Setenv("BIZZAI_DOTENV_PROBE", "")
	require.NoError(t, os.Unsetenv("BIZZAI_DOTENV_PROBE"))

	LoadDotEnv(path, filepath.Join(dir, "missing.env"))
	t.Cleanup(func() { _ = os.Unsetenv("BIZZAI_DOTENV_PROBE") })

	assert.Equal(t, "from-file", os.Getenv("BIZZAI_DOTENV_PROBE"))
	assert.Equal(t, ":6060", Load().Address())
}
