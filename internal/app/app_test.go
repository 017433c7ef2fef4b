package app

import (
	"testing"

	"github.com/cristalhq/aconfig"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/xenking/rop-settlement/internal/domain/order"
	"github.com/xenking/rop-settlement/internal/domain/payment"
	"github.com/xenking/rop-settlement/internal/gateway/bogus"
	"github.com/xenking/rop-settlement/internal/gateway/square"
)

func validConfig() Config {
	return Config{
		Addr:        "0.0.0.0:8080",
		DatabaseURL: "postgres://localhost/rop",
		Gateways: GatewaysConfig{
			Default: bogus.Name,
			Bogus:   BogusConfig{Enabled: true},
		},
	}
}

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{name: "valid", mutate: func(*Config) {}},
		{name: "missing database", mutate: func(c *Config) { c.DatabaseURL = "" }, wantErr: "database URL is required"},
		{name: "missing default gateway", mutate: func(c *Config) { c.Gateways = GatewaysConfig{} }, wantErr: "default gateway is required"},
		{name: "unknown gateway", mutate: func(c *Config) { c.Gateways.Default = "paypal" }, wantErr: `unknown default gateway "paypal"`},
		{name: "bogus disabled", mutate: func(c *Config) { c.Gateways.Bogus.Enabled = false }, wantErr: "disabled"},
		{name: "square without token", mutate: func(c *Config) { c.Gateways.Default = square.Name }, wantErr: "access token"},
		{
			name: "square with token",
			mutate: func(c *Config) {
				c.Gateways.Default = square.Name
				c.Gateways.Square.AccessToken = "EAAA-test"
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := validConfig()
			tt.mutate(&cfg)
			err := cfg.validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			require.Error(t, err)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestGatewaysConfig_Defaults(t *testing.T) {
	var cfg GatewaysConfig
	loader := aconfig.LoaderFor(&cfg, aconfig.Config{SkipFiles: true, SkipEnv: true, SkipFlags: true})
	require.NoError(t, loader.Load())

	assert.Empty(t, cfg.Default, "gateway must be chosen explicitly")
	assert.False(t, cfg.Bogus.Enabled, "bogus gateway is opt-in")
}

func TestApplyPlatformDefaults(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://platform/db")
	t.Setenv("REDIS_URL", "redis://platform:6379/0")
	t.Setenv("PORT", "9000")

	cfg := Config{Addr: "0.0.0.0:8080"}
	cfg.applyPlatformDefaults()

	assert.Equal(t, "postgres://platform/db", cfg.DatabaseURL)
	assert.Equal(t, "redis://platform:6379/0", cfg.Redis.URL)
	assert.Equal(t, "0.0.0.0:9000", cfg.Addr)

	explicit := Config{Addr: "127.0.0.1:1234", DatabaseURL: "postgres://explicit/db"}
	explicit.applyPlatformDefaults()
	assert.Equal(t, "postgres://explicit/db", explicit.DatabaseURL)
	assert.Equal(t, "127.0.0.1:1234", explicit.Addr)
}

func TestNewGateways(t *testing.T) {
	reg, err := NewGateways(GatewaysConfig{
		Default: bogus.Name,
		Bogus:   BogusConfig{Enabled: true, CaptureAmount: true},
		Square:  square.Config{AccessToken: "EAAA-test", Environment: "sandbox"},
	}, zap.NewNop())
	require.NoError(t, err)

	gw, err := reg.For(&order.Payment{})
	require.NoError(t, err)
	assert.IsType(t, &bogus.Gateway{}, gw)
	assert.True(t, gw.Capabilities().CaptureAmount)

	gw, err = reg.For(&order.Payment{Method: square.Name})
	require.NoError(t, err)
	assert.IsType(t, &square.Gateway{}, gw)

	_, err = reg.For(&order.Payment{Method: "paypal"})
	assert.ErrorIs(t, err, payment.ErrUnknownGateway)
}

func TestNewGateways_BadSquareEnvironment(t *testing.T) {
	_, err := NewGateways(GatewaysConfig{
		Default: bogus.Name,
		Square:  square.Config{AccessToken: "EAAA-test", Environment: "staging"},
	}, zap.NewNop())
	require.Error(t, err)
}

func TestNewEngine(t *testing.T) {
	reg := payment.NewRegistry(bogus.Name)

	_, err := NewEngine(SettlementConfig{CostModel: "adjustment", ShortShipValuation: "none"}, nil, reg)
	require.NoError(t, err)

	_, err = NewEngine(SettlementConfig{CostModel: "weight"}, nil, reg)
	assert.ErrorContains(t, err, "unknown shipment cost model")

	_, err = NewEngine(SettlementConfig{ShortShipValuation: "average"}, nil, reg)
	assert.ErrorContains(t, err, "unknown short ship valuation")
}
