package app

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alanyoungcy/gridbot/internal/config"
	"github.com/alanyoungcy/gridbot/internal/domain"
)

type stubRules struct {
	m   domain.Market
	ok  bool
	err error
}

func (s stubRules) MarketRules(context.Context, string) (domain.Market, bool, error) {
	return s.m, s.ok, s.err
}

func TestResolveMarket(t *testing.T) {
	listed := domain.Market{Symbol: "BTCIRT", Tick: 10, QuantityPrecision: 6, MinNotional: 3_000_000}

	tests := []struct {
		name    string
		src     stubRules
		cfg     config.GridConfig
		want    domain.Market
		wantErr bool
	}{
		{
			name: "exchange rules",
			src:  stubRules{m: listed, ok: true},
			cfg:  config.GridConfig{Symbol: "btcirt"},
			want: listed,
		},
		{
			name: "config overrides",
			src:  stubRules{m: listed, ok: true},
			cfg:  config.GridConfig{Symbol: "BTCIRT", Tick: 100, MinNotional: 5_000_000},
			want: domain.Market{Symbol: "BTCIRT", Tick: 100, QuantityPrecision: 6, MinNotional: 5_000_000},
		},
		{
			name:    "unlisted without overrides",
			src:     stubRules{},
			cfg:     config.GridConfig{Symbol: "XYZIRT"},
			wantErr: true,
		},
		{
			name: "fetch error with full overrides",
			src:  stubRules{err: errors.New("down")},
			cfg:  config.GridConfig{Symbol: "ETHIRT", Tick: 1, QuantityPrecision: 4},
			want: domain.Market{Symbol: "ETHIRT", Tick: 1, QuantityPrecision: 4},
		},
		{
			name:    "fetch error without overrides",
			src:     stubRules{err: errors.New("down")},
			cfg:     config.GridConfig{Symbol: "ETHIRT"},
			wantErr: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := resolveMarket(context.Background(), tt.src, tt.cfg)
			if (err != nil) != tt.wantErr {
				t.Fatalf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if !tt.wantErr && got != tt.want {
				t.Errorf("market = %+v, want %+v", got, tt.want)
			}
		})
	}
}

func TestEngineConfigFromDefaults(t *testing.T) {
	cfg := config.Defaults()
	cfg.Grid.Capital = 10_000_000
	cfg.Grid.GridMode = "buy_only"

	ec := engineConfig(&cfg)
	if ec.Capital != 10_000_000 || ec.Mode != domain.GridModeBuyOnly {
		t.Errorf("engine config = %+v", ec)
	}
	if ec.RebalanceCooldown != 10*time.Minute {
		t.Errorf("cooldown = %v", ec.RebalanceCooldown)
	}
	if ec.StepPercent != cfg.Grid.StepPercent || ec.Levels != cfg.Grid.Levels {
		t.Errorf("ladder params lost: %+v", ec)
	}
}

func TestFeedConfigCarriesReconnectSettings(t *testing.T) {
	cfg := config.Defaults()
	cfg.Feed.BackoffFactor = 1.5
	cfg.Feed.Jitter = 0.25
	cfg.Feed.MaxBackoff.Duration = 20 * time.Second

	fc := (&App{cfg: &cfg}).feedConfig()
	if fc.BackoffFactor != 1.5 || fc.Jitter != 0.25 || fc.MaxBackoff != 20*time.Second {
		t.Errorf("feed config = %+v", fc)
	}
	if fc.LeaseTTL != cfg.Feed.LeaseTTL.Duration || fc.URL != cfg.Exchange.WSURL {
		t.Errorf("lease/url lost: %+v", fc)
	}
}
