package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/shopspring/decimal"
	"github.com/spf13/viper"
)

type Config struct {
	Env                      string
	Port                     string
	AllowedOrigin            string
	DatabaseURL              string
	RunMigrations            bool
	RedisAddr                string
	RedisPassword            string
	RedisDB                  int
	ItemCacheTTLSeconds      int
	AuthSecret               string
	AccessTokenTTLMinutes    int
	ManagerPIN               string
	LogLevel                 string
	LogFormat                string
	OperationTimeout         time.Duration
	CartIdleTTL              time.Duration
	CashAccountID            string
	BankAccountID            string
	TaxRatePercent           decimal.Decimal
	DiscountPercent          decimal.Decimal
	DiscountMinSubtotalCents int64
	RestockingFeePercent     decimal.Decimal
}

// LoadDotEnv reads .env files into the process environment without
// overriding variables that are already set. Missing files are ignored.
func LoadDotEnv(paths ...string) {
	if len(paths) == 0 {
		paths = []string{".env"}
	}
	for _, p := range paths {
		_ = godotenv.Load(p)
	}
}

func Load() Config {
	v := viper.New()
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_", "-", "_"))
	v.AutomaticEnv()

	v.SetDefault("app_env", "development")
	v.SetDefault("port", "8080")
	v.SetDefault("allowed_origin", "http://127.0.0.1:3000")
	v.SetDefault("run_migrations", false)
	v.SetDefault("redis_db", 0)
	v.SetDefault("item_cache_ttl_seconds", 30)
	v.SetDefault("access_token_ttl_minutes", 480)
	v.SetDefault("log_level", "info")
	v.SetDefault("log_format", "")
	v.SetDefault("operation_timeout_ms", 5000)
	v.SetDefault("cart_idle_ttl_minutes", 480)
	v.SetDefault("cash_account_id", "cash-drawer")
	v.SetDefault("bank_account_id", "bank-main")
	v.SetDefault("tax_rate_percent", "0")
	v.SetDefault("discount_percent", "0")
	v.SetDefault("discount_min_subtotal_cents", 0)
	v.SetDefault("restocking_fee_percent", "0")

	cacheTTL := v.GetInt("item_cache_ttl_seconds")
	if cacheTTL < 1 {
		cacheTTL = 30
	}
	tokenTTL := v.GetInt("access_token_ttl_minutes")
	if tokenTTL < 1 {
		tokenTTL = 480
	}
	opTimeout := v.GetInt("operation_timeout_ms")
	if opTimeout < 1 {
		opTimeout = 5000
	}
	cartIdle := v.GetInt("cart_idle_ttl_minutes")
	if cartIdle < 1 {
		cartIdle = 480
	}

	cfg := Config{
		Env:                      strings.ToLower(strings.TrimSpace(v.GetString("app_env"))),
		Port:                     v.GetString("port"),
		AllowedOrigin:            v.GetString("allowed_origin"),
		DatabaseURL:              strings.TrimSpace(v.GetString("database_url")),
		RunMigrations:            v.GetBool("run_migrations"),
		RedisAddr:                strings.TrimSpace(v.GetString("redis_addr")),
		RedisPassword:            v.GetString("redis_password"),
		RedisDB:                  v.GetInt("redis_db"),
		ItemCacheTTLSeconds:      cacheTTL,
		AuthSecret:               strings.TrimSpace(v.GetString("auth_secret")),
		AccessTokenTTLMinutes:    tokenTTL,
		ManagerPIN:               strings.TrimSpace(v.GetString("manager_pin")),
		LogLevel:                 v.GetString("log_level"),
		LogFormat:                v.GetString("log_format"),
		OperationTimeout:         time.Duration(opTimeout) * time.Millisecond,
		CartIdleTTL:              time.Duration(cartIdle) * time.Minute,
		CashAccountID:            v.GetString("cash_account_id"),
		BankAccountID:            v.GetString("bank_account_id"),
		TaxRatePercent:           percent(v.GetString("tax_rate_percent")),
		DiscountPercent:          percent(v.GetString("discount_percent")),
		DiscountMinSubtotalCents: v.GetInt64("discount_min_subtotal_cents"),
		RestockingFeePercent:     percent(v.GetString("restocking_fee_percent")),
	}

	return cfg
}

func (c Config) Address() string {
	return fmt.Sprintf(":%s", c.Port)
}

func (c Config) IsProduction() bool {
	return c.Env == "production"
}

// percent parses a 0..100 percentage; anything else is treated as zero.
func percent(raw string) decimal.Decimal {
	d, err := decimal.NewFromString(strings.TrimSpace(raw))
	if err != nil || d.IsNegative() || d.GreaterThan(decimal.NewFromInt(100)) {
		return decimal.Zero
	}
	return d
}
