package app

import (
	"context"
	"math/big"
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	"github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	gasApp "github.com/arbitron/arbitrage-engine/business/gas/app"
	"github.com/arbitron/arbitrage-engine/internal/asset"
	"github.com/arbitron/arbitrage-engine/internal/events"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	schedulerTracer = "scan-scheduler"
	schedulerMeter  = "scan-scheduler"
)

// ScanPair is one entry in the scheduler's priority list.
type ScanPair struct {
	TokenA   *asset.Asset
	TokenB   *asset.Asset
	AmountIn asset.Amount
}

// SchedulerConfig holds scan loop settings.
type SchedulerConfig struct {
	ScanInterval    time.Duration
	ScanTimeout     time.Duration
	GasCheckTimeout time.Duration
	MaxConcurrent   int
	TopK            int
	MinProfitPct    decimal.Decimal
	MaxProfitPct    decimal.Decimal
	MaxGasPriceWei  *big.Int
	OpportunityCap  int // retained opportunities per pair
}

// schedulerMetrics holds OTEL metric instruments.
type schedulerMetrics struct {
	scansTotal   metric.Int64Counter
	scansSkipped metric.Int64Counter
	emptyScans   metric.Int64Counter
	scanLatency  metric.Float64Histogram
}

// Scheduler drives periodic opportunity scans: gas gate, bounded fan-out over
// the pair list, ranking, risk gating and optional execution. At most one
// scan runs at a time; a tick that lands mid-scan is skipped, not queued.
type Scheduler struct {
	evaluator *Evaluator
	risk      RiskEvaluator
	executor  TradeExecutor // nil in scan-only mode
	gasOracle gasApp.GasOracle
	bus       *events.Bus
	pairs     []ScanPair
	cfg       SchedulerConfig
	logger    logger.LoggerInterface

	scanning atomic.Bool

	// consecutiveEmptyScans is informational; it is logged and exported but
	// deliberately not fed back into the scan interval.
	consecutiveEmptyScans atomic.Int64

	historyMu sync.Mutex
	history   map[string][]*domain.Opportunity // pair label -> recent, newest last

	tracer  trace.Tracer
	metrics *schedulerMetrics
}

// NewScheduler creates a Scheduler.
func NewScheduler(evaluator *Evaluator, risk RiskEvaluator, executor TradeExecutor, gasOracle gasApp.GasOracle, bus *events.Bus, pairs []ScanPair, cfg SchedulerConfig, log logger.LoggerInterface) (*Scheduler, error) {
	s := &Scheduler{
		evaluator: evaluator,
		risk:      risk,
		executor:  executor,
		gasOracle: gasOracle,
		bus:       bus,
		pairs:     pairs,
		cfg:       cfg,
		logger:    log,
		history:   make(map[string][]*domain.Opportunity),
		tracer:    otel.Tracer(schedulerTracer),
	}
	if err := s.initMetrics(); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Scheduler) initMetrics() error {
	meter := otel.Meter(schedulerMeter)
	var err error

	s.metrics = &schedulerMetrics{}

	s.metrics.scansTotal, err = meter.Int64Counter(
		"scans_total",
		metric.WithDescription("Scan cycles started"),
	)
	if err != nil {
		return err
	}

	s.metrics.scansSkipped, err = meter.Int64Counter(
		"scans_skipped_total",
		metric.WithDescription("Ticks skipped because a scan was in flight"),
	)
	if err != nil {
		return err
	}

	s.metrics.emptyScans, err = meter.Int64Counter(
		"empty_scans_total",
		metric.WithDescription("Scans that found no opportunity"),
	)
	if err != nil {
		return err
	}

	s.metrics.scanLatency, err = meter.Float64Histogram(
		"scan_latency_ms",
		metric.WithDescription("Scan cycle latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return err
	}

	return nil
}

// Run blocks, scanning every ScanInterval until ctx is cancelled.
func (s *Scheduler) Run(ctx context.Context) {
	ticker := time.NewTicker(s.cfg.ScanInterval)
	defer ticker.Stop()

	s.logger.Info(ctx, "scheduler started",
		"interval", s.cfg.ScanInterval,
		"pairs", len(s.pairs),
	)

	// First scan immediately rather than waiting a full interval.
	s.tryScan(ctx)

	for {
		select {
		case <-ctx.Done():
			s.logger.Info(ctx, "scheduler stopped")
			return
		case <-ticker.C:
			s.tryScan(ctx)
		}
	}
}

// tryScan runs a scan unless one is already in flight.
func (s *Scheduler) tryScan(ctx context.Context) {
	if !s.scanning.CompareAndSwap(false, true) {
		s.metrics.scansSkipped.Add(ctx, 1)
		s.logger.Debug(ctx, "scan already in flight, skipping tick")
		return
	}
	defer s.scanning.Store(false)

	s.Scan(ctx)
}

// Scan runs one full cycle and returns the ranked opportunities it found.
// The cycle is bounded by ScanTimeout; whatever partial results exist at the
// deadline are returned rather than hanging.
func (s *Scheduler) Scan(ctx context.Context) []*domain.Opportunity {
	ctx, span := s.tracer.Start(ctx, "scheduler.scan")
	defer span.End()

	start := time.Now()
	s.metrics.scansTotal.Add(ctx, 1)

	scanCtx, cancel := context.WithTimeout(ctx, s.cfg.ScanTimeout)
	defer cancel()

	if !s.gasAcceptable(scanCtx) {
		span.AddEvent("gas_gate_closed")
		s.logger.Info(ctx, "gas price unacceptable, skipping scan")
		return nil
	}

	opportunities := s.scanPairs(scanCtx)
	opportunities = s.sanityFilter(opportunities)

	sort.SliceStable(opportunities, func(i, j int) bool {
		return opportunities[i].NetProfit.GreaterThan(opportunities[j].NetProfit)
	})
	if len(opportunities) > s.cfg.TopK {
		opportunities = opportunities[:s.cfg.TopK]
	}

	s.metrics.scanLatency.Record(ctx, float64(time.Since(start).Milliseconds()))
	span.SetAttributes(attribute.Int("opportunities", len(opportunities)))

	if len(opportunities) == 0 {
		empty := s.consecutiveEmptyScans.Add(1)
		s.metrics.emptyScans.Add(ctx, 1)
		s.logger.Debug(ctx, "scan found nothing", "consecutive_empty", empty)
		return nil
	}
	s.consecutiveEmptyScans.Store(0)
	s.remember(opportunities)

	s.bus.Publish(events.TypeOpportunitiesFound, opportunities)
	s.logger.Info(ctx, "scan complete",
		"opportunities", len(opportunities),
		"best", opportunities[0].String(),
	)

	s.dispatch(ctx, opportunities[0])

	return opportunities
}

// gasAcceptable asks the oracle whether gas is within bounds. The check is
// timeout-bounded; on timeout the scan proceeds rather than starving.
func (s *Scheduler) gasAcceptable(ctx context.Context) bool {
	gasCtx, cancel := context.WithTimeout(ctx, s.cfg.GasCheckTimeout)
	defer cancel()

	tiers, err := s.gasOracle.Tiers(gasCtx)
	if err != nil {
		s.logger.Warn(ctx, "gas gate check failed, proceeding", "error", err)
		return true
	}

	if s.cfg.MaxGasPriceWei != nil && tiers.Standard.Wei.Cmp(s.cfg.MaxGasPriceWei) > 0 {
		return false
	}
	return true
}

// scanPairs fans out over the priority list with bounded concurrency.
func (s *Scheduler) scanPairs(ctx context.Context) []*domain.Opportunity {
	sem := make(chan struct{}, s.cfg.MaxConcurrent)
	var mu sync.Mutex
	var out []*domain.Opportunity
	var wg sync.WaitGroup

	for _, pair := range s.pairs {
		if ctx.Err() != nil {
			break
		}

		wg.Add(1)
		go func(p ScanPair) {
			defer wg.Done()

			select {
			case sem <- struct{}{}:
				defer func() { <-sem }()
			case <-ctx.Done():
				return
			}

			opp := s.evaluator.Evaluate(ctx, p.TokenA, p.TokenB, p.AmountIn)
			if opp == nil {
				return
			}

			mu.Lock()
			out = append(out, opp)
			mu.Unlock()
		}(pair)
	}

	wg.Wait()
	return out
}

// sanityFilter applies risk-gate-independent floors and ceilings: too little
// profit is noise, too much is a stale quote.
func (s *Scheduler) sanityFilter(opps []*domain.Opportunity) []*domain.Opportunity {
	kept := opps[:0]
	for _, opp := range opps {
		if opp.ProfitPercent.LessThan(s.cfg.MinProfitPct) {
			continue
		}
		if s.cfg.MaxProfitPct.IsPositive() && opp.ProfitPercent.GreaterThan(s.cfg.MaxProfitPct) {
			continue
		}
		kept = append(kept, opp)
	}
	return kept
}

// dispatch risk-gates the best opportunity and, when execution is wired,
// runs it and reports the outcome back to the gate.
func (s *Scheduler) dispatch(ctx context.Context, opp *domain.Opportunity) {
	decision := s.risk.Evaluate(ctx, opp)
	if !decision.Approved {
		s.logger.Info(ctx, "opportunity denied by risk gate",
			"opportunity", opp.ID,
			"reason", decision.Reason,
			"risk_score", decision.RiskScore,
		)
		return
	}

	if s.executor == nil {
		s.logger.Info(ctx, "opportunity approved (scan-only mode)",
			"opportunity", opp.ID,
			"risk_score", decision.RiskScore,
		)
		return
	}

	result, err := s.executor.Execute(ctx, opp)
	if err != nil {
		s.logger.Error(ctx, "execution failed", "opportunity", opp.ID, "error", err)
		failed := domain.TradeResult{
			Success:   false,
			Amount:    opp.AmountIn,
			TokenA:    opp.TokenA.Symbol(),
			TokenB:    opp.TokenB.Symbol(),
			BuyVenue:  opp.BuyVenue,
			SellVenue: opp.SellVenue,
			Timestamp: time.Now(),
		}
		s.risk.RecordTrade(ctx, failed)
		s.bus.Publish(events.TypeTradeFailed, failed)
		return
	}

	s.risk.RecordTrade(ctx, *result)
	if result.Success {
		s.bus.Publish(events.TypeTradeExecuted, *result)
	} else {
		s.bus.Publish(events.TypeTradeFailed, *result)
	}
}

// remember appends to the bounded per-pair opportunity history.
func (s *Scheduler) remember(opps []*domain.Opportunity) {
	if s.cfg.OpportunityCap <= 0 {
		return
	}

	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	for _, opp := range opps {
		pair := opp.Pair()
		h := append(s.history[pair], opp)
		if len(h) > s.cfg.OpportunityCap {
			h = h[len(h)-s.cfg.OpportunityCap:]
		}
		s.history[pair] = h
	}
}

// RecentOpportunities returns a snapshot of the per-pair history for the
// status surface, newest last.
func (s *Scheduler) RecentOpportunities() map[string][]*domain.Opportunity {
	s.historyMu.Lock()
	defer s.historyMu.Unlock()

	out := make(map[string][]*domain.Opportunity, len(s.history))
	for pair, opps := range s.history {
		out[pair] = append([]*domain.Opportunity(nil), opps...)
	}
	return out
}

// EmptyScans returns the current consecutive empty scan count.
func (s *Scheduler) EmptyScans() int64 {
	return s.consecutiveEmptyScans.Load()
}
