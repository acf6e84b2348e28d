package metrics

import (
	"context"
	"errors"
	"math/big"
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"perpVault/internal/fixed"
	"perpVault/internal/vault"
)

// Source is the read side of the engine that the gauges sample.
type Source interface {
	Pool(side vault.Side) vault.Pool
	NetAssetValue(ctx context.Context, side vault.Side) (*big.Int, error)
	FundingRate(isShort bool) *big.Int
	Epoch() vault.EpochState
	Units() fixed.Units
}

// VaultMetrics exposes pool state as Prometheus gauges.
type VaultMetrics struct {
	registry *prometheus.Registry

	totalDeposits  *prometheus.GaugeVec
	activeDeposits *prometheus.GaugeVec
	netAssetValue  *prometheus.GaugeVec
	totalShares    *prometheus.GaugeVec
	openInterest   *prometheus.GaugeVec
	positionUnits  *prometheus.GaugeVec
	openPositions  *prometheus.GaugeVec
	fundingRate    *prometheus.GaugeVec
	epoch          prometheus.Gauge
	operations     *prometheus.CounterVec
}

func New(namespace string) *VaultMetrics {
	registry := prometheus.NewRegistry()
	sideGauge := func(name, help string) *prometheus.GaugeVec {
		return prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      name,
			Help:      help,
		}, []string{"side"})
	}

	m := &VaultMetrics{
		registry:       registry,
		totalDeposits:  sideGauge("pool_total_deposits", "Total deposits held by the pool, in the pool asset"),
		activeDeposits: sideGauge("pool_active_deposits", "Deposits reserved for open positions, in the pool asset"),
		netAssetValue:  sideGauge("pool_net_asset_value", "Pool value net of unrealized trader PnL, in the pool asset"),
		totalShares:    sideGauge("pool_total_shares", "Outstanding LP shares"),
		openInterest:   sideGauge("pool_open_interest", "Notional of positions backed by the pool, in quote"),
		positionUnits:  sideGauge("pool_position_units", "Base units of positions backed by the pool"),
		openPositions:  sideGauge("pool_open_positions", "Number of open positions backed by the pool"),
		fundingRate: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "funding_rate_percent",
			Help:      "Annualized funding rate by direction",
		}, []string{"direction"}),
		epoch: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: namespace,
			Name:      "epoch",
			Help:      "Current pricing epoch",
		}),
		operations: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "operations_total",
			Help:      "Operations applied to the engine by kind and outcome",
		}, []string{"op", "result"}),
	}

	registry.MustRegister(
		m.totalDeposits,
		m.activeDeposits,
		m.netAssetValue,
		m.totalShares,
		m.openInterest,
		m.positionUnits,
		m.openPositions,
		m.fundingRate,
		m.epoch,
		m.operations,
	)
	return m
}

// Registry returns the registry backing the gauges.
func (m *VaultMetrics) Registry() *prometheus.Registry {
	return m.registry
}

// RecordOperation counts one applied operation.
func (m *VaultMetrics) RecordOperation(op string, err error) {
	result := "ok"
	if err != nil {
		result = "rejected"
	}
	m.operations.WithLabelValues(op, result).Inc()
}

// Observe samples the engine into the gauges.
func (m *VaultMetrics) Observe(ctx context.Context, src Source) error {
	units := src.Units()
	for _, side := range []vault.Side{vault.SideQuote, vault.SideBase} {
		dec := units.QuoteDecimals
		if side == vault.SideBase {
			dec = units.BaseDecimals
		}
		label := side.String()
		pool := src.Pool(side)
		m.totalDeposits.WithLabelValues(label).Set(toFloat(pool.TotalDeposits, dec))
		m.activeDeposits.WithLabelValues(label).Set(toFloat(pool.ActiveDeposits, dec))
		m.totalShares.WithLabelValues(label).Set(toFloat(pool.TotalShares, dec))
		m.openInterest.WithLabelValues(label).Set(toFloat(pool.OpenInterest, units.QuoteDecimals))
		m.positionUnits.WithLabelValues(label).Set(toFloat(pool.PositionUnits, fixed.UnitDecimals))
		m.openPositions.WithLabelValues(label).Set(float64(pool.OpenPositions))

		nav, err := src.NetAssetValue(ctx, side)
		if err != nil {
			return err
		}
		m.netAssetValue.WithLabelValues(label).Set(toFloat(nav, dec))
	}
	m.fundingRate.WithLabelValues("long").Set(toFloat(src.FundingRate(false), fixed.RateDecimals))
	m.fundingRate.WithLabelValues("short").Set(toFloat(src.FundingRate(true), fixed.RateDecimals))
	m.epoch.Set(float64(src.Epoch().CurrentEpoch))
	return nil
}

// Serve exposes /metrics on addr until ctx is cancelled.
func (m *VaultMetrics) Serve(ctx context.Context, addr string, logger *zap.Logger) error {
	if logger == nil {
		logger = zap.NewNop()
	}
	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{}))
	server := &http.Server{Addr: addr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}

	errCh := make(chan error, 1)
	go func() {
		logger.Info("metrics server listening", zap.String("addr", addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func toFloat(v *big.Int, decimals uint8) float64 {
	if v == nil {
		return 0
	}
	f, _ := decimal.NewFromBigInt(v, -int32(decimals)).Float64()
	return f
}
