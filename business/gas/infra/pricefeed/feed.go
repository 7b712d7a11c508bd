// Package pricefeed streams the native asset's USD price from Binance with a
// REST fallback and a configured default.
package pricefeed

import (
	"context"
	"encoding/json"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/metric"

	"github.com/arbitron/arbitrage-engine/business/gas/app"
	"github.com/arbitron/arbitrage-engine/internal/config"
	"github.com/arbitron/arbitrage-engine/internal/httpclient"
	"github.com/arbitron/arbitrage-engine/internal/logger"
	"github.com/arbitron/arbitrage-engine/internal/wsconn"
)

const meterName = "price-feed"

// Ensure Feed implements the port.
var _ app.NativePriceFeed = (*Feed)(nil)

// miniTicker is the Binance <symbol>@miniTicker stream payload. Only the
// close price is used.
type miniTicker struct {
	Close string `json:"c"`
}

// tickerPrice is the Binance REST /api/v3/ticker/price response.
type tickerPrice struct {
	Symbol string `json:"symbol"`
	Price  string `json:"price"`
}

// Feed holds the last observed native/USD price. The websocket stream
// updates it continuously; a timer-driven REST pull covers stream gaps. Reads
// never block: a stale or fallback value is served instead.
type Feed struct {
	symbol   string
	fallback decimal.Decimal
	refresh  time.Duration

	ws   *wsconn.Client
	rest *httpclient.Client

	mu        sync.RWMutex
	price     decimal.Decimal
	updatedAt time.Time

	logger logger.LoggerInterface

	priceGauge metric.Float64Gauge
	staleReads metric.Int64Counter

	stopOnce sync.Once
	stop     chan struct{}
}

// New creates a Feed from gas config. Start must be called to begin updates.
func New(cfg config.GasConfig, log logger.LoggerInterface) (*Feed, error) {
	streamURL := cfg.PriceFeedWSURL + "/ws/" + strings.ToLower(cfg.PriceFeedSymbol) + "@miniTicker"

	f := &Feed{
		symbol:   cfg.PriceFeedSymbol,
		fallback: decimal.NewFromFloat(cfg.FallbackPriceUSD),
		refresh:  cfg.PriceRefresh,
		ws:       wsconn.New(wsconn.DefaultConfig(streamURL)),
		rest: httpclient.New(cfg.PriceFeedURL,
			httpclient.WithTimeout(5*time.Second),
			httpclient.WithRetries(2, time.Second),
		),
		logger: log,
		stop:   make(chan struct{}),
	}

	meter := otel.Meter(meterName)
	var err error

	f.priceGauge, err = meter.Float64Gauge(
		"native_price_usd",
		metric.WithDescription("Native asset USD price"),
	)
	if err != nil {
		return nil, err
	}

	f.staleReads, err = meter.Int64Counter(
		"native_price_stale_reads_total",
		metric.WithDescription("Reads served from a stale or fallback price"),
	)
	if err != nil {
		return nil, err
	}

	return f, nil
}

// Start connects the stream and launches the refresh loop. A failed initial
// connection is not fatal; the REST loop keeps the price usable.
func (f *Feed) Start(ctx context.Context) {
	if err := f.ws.Connect(ctx); err != nil {
		f.logger.Warn(ctx, "price stream connect failed, relying on REST pulls",
			"symbol", f.symbol, "error", err)
	}

	// Seed the price immediately instead of waiting for the first tick.
	if err := f.pull(ctx); err != nil {
		f.logger.Warn(ctx, "initial price pull failed, using fallback",
			"symbol", f.symbol, "fallback", f.fallback)
	}

	go f.streamLoop(ctx)
	go f.refreshLoop(ctx)
}

// Close stops the feed.
func (f *Feed) Close() {
	f.stopOnce.Do(func() {
		close(f.stop)
		f.ws.Close()
	})
}

// PriceUSD returns the most recent price. Stale values are served as-is;
// when nothing has ever been observed the configured fallback is returned.
func (f *Feed) PriceUSD(ctx context.Context) decimal.Decimal {
	f.mu.RLock()
	price := f.price
	updatedAt := f.updatedAt
	f.mu.RUnlock()

	if price.IsZero() {
		f.staleReads.Add(ctx, 1)
		return f.fallback
	}
	if time.Since(updatedAt) > 2*f.refresh {
		f.staleReads.Add(ctx, 1)
	}
	return price
}

func (f *Feed) streamLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case msg, ok := <-f.ws.Messages():
			if !ok {
				return
			}
			var tick miniTicker
			if err := json.Unmarshal(msg, &tick); err != nil {
				continue
			}
			price, err := decimal.NewFromString(tick.Close)
			if err != nil || price.IsZero() {
				continue
			}
			f.store(ctx, price)
		}
	}
}

func (f *Feed) refreshLoop(ctx context.Context) {
	ticker := time.NewTicker(f.refresh)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-f.stop:
			return
		case <-ticker.C:
			// Stream updates make the pull redundant; only hit REST when
			// the stored price has gone quiet.
			f.mu.RLock()
			fresh := time.Since(f.updatedAt) < f.refresh
			f.mu.RUnlock()
			if fresh {
				continue
			}
			if err := f.pull(ctx); err != nil {
				f.logger.Warn(ctx, "price refresh failed, keeping stale value",
					"symbol", f.symbol, "error", err)
			}
		}
	}
}

func (f *Feed) pull(ctx context.Context) error {
	query := url.Values{}
	query.Set("symbol", f.symbol)

	var resp tickerPrice
	if err := f.rest.GetJSON(ctx, "/api/v3/ticker/price", query, &resp); err != nil {
		return err
	}

	price, err := decimal.NewFromString(resp.Price)
	if err != nil {
		return err
	}
	if price.IsZero() {
		return nil
	}

	f.store(ctx, price)
	return nil
}

func (f *Feed) store(ctx context.Context, price decimal.Decimal) {
	f.mu.Lock()
	f.price = price
	f.updatedAt = time.Now()
	f.mu.Unlock()

	pf, _ := price.Float64()
	f.priceGauge.Record(ctx, pf)
}
