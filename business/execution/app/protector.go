package app

import (
	"context"
	"math/big"
	"math/rand"
	"time"

	"github.com/ethereum/go-ethereum/common"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"

	arbitrageDomain "github.com/arbitron/arbitrage-engine/business/arbitrage/domain"
	"github.com/arbitron/arbitrage-engine/business/execution/domain"
	gasApp "github.com/arbitron/arbitrage-engine/business/gas/app"
	"github.com/arbitron/arbitrage-engine/internal/apperror"
	"github.com/arbitron/arbitrage-engine/internal/logger"
)

const (
	protectorTracer = "execution-protector"
	protectorMeter  = "execution-protector"

	// A pending tx this much above our planned price aiming at the same
	// pools reads as a frontrun attempt.
	sandwichSuspectThreshold = 2
)

// ProtectorConfig holds MEV protection settings.
type ProtectorConfig struct {
	Sender           common.Address
	MinDelay         time.Duration
	MaxDelay         time.Duration
	GasPremiumMinPct int
	GasPremiumMaxPct int
	GasPriceCap      *big.Int
	Relays           []string
	UseRelays        bool
	ScreenMempool    bool
}

type protectorMetrics struct {
	plans           metric.Int64Counter
	sandwichSignals metric.Int64Counter
	screenFailures  metric.Int64Counter
}

// Protector builds submission plans that make the engine's transactions
// harder to frontrun: jittered timing, a randomized gas premium, serialized
// nonces, relay routing and an advisory mempool screen.
type Protector struct {
	cfg    ProtectorConfig
	nonces *NonceManager
	gas    gasApp.GasOracle
	chain  ChainState
	logger logger.LoggerInterface

	tracer  trace.Tracer
	metrics *protectorMetrics
}

// NewProtector creates a Protector.
func NewProtector(cfg ProtectorConfig, nonces *NonceManager, gas gasApp.GasOracle, chain ChainState, log logger.LoggerInterface) (*Protector, error) {
	p := &Protector{
		cfg:    cfg,
		nonces: nonces,
		gas:    gas,
		chain:  chain,
		logger: log,
		tracer: otel.Tracer(protectorTracer),
	}
	if err := p.initMetrics(); err != nil {
		return nil, err
	}
	return p, nil
}

func (p *Protector) initMetrics() error {
	meter := otel.Meter(protectorMeter)
	var err error

	p.metrics = &protectorMetrics{}

	p.metrics.plans, err = meter.Int64Counter(
		"submission_plans_total",
		metric.WithDescription("Submission plans built"),
	)
	if err != nil {
		return err
	}

	p.metrics.sandwichSignals, err = meter.Int64Counter(
		"sandwich_signals_total",
		metric.WithDescription("Plans flagged by the mempool screen"),
	)
	if err != nil {
		return err
	}

	p.metrics.screenFailures, err = meter.Int64Counter(
		"mempool_screen_failures_total",
		metric.WithDescription("Mempool screens that produced no signal"),
	)
	return err
}

// Plan assembles the protections for one submission. Everything random in
// the plan exists to break timing and pricing patterns an observer could
// key on.
func (p *Protector) Plan(ctx context.Context, opp *arbitrageDomain.Opportunity) (*domain.Plan, error) {
	ctx, span := p.tracer.Start(ctx, "protector.plan")
	defer span.End()

	nonce, err := p.nonces.Next(ctx, p.cfg.Sender)
	if err != nil {
		return nil, err
	}

	price, premium, err := p.gasPremium(ctx)
	if err != nil {
		p.nonces.Release(p.cfg.Sender)
		return nil, err
	}

	plan := &domain.Plan{
		Nonce:      nonce,
		GasPrice:   price,
		PremiumPct: premium,
		Delay:      p.randomDelay(),
		Relay:      p.pickRelay(),
		Mempool:    p.screen(ctx, opp, price),
		CreatedAt:  time.Now(),
	}

	p.metrics.plans.Add(ctx, 1)
	span.SetAttributes(
		attribute.Int64("nonce", int64(plan.Nonce)),
		attribute.Int("premium_pct", plan.PremiumPct),
		attribute.Bool("private_relay", plan.Private()),
	)
	p.logger.Debug(ctx, "submission plan built", "plan", plan.String())

	return plan, nil
}

// ReleaseNonce returns the sender's reserved nonce after a failed
// submission so the next plan re-reads the chain.
func (p *Protector) ReleaseNonce() {
	p.nonces.Release(p.cfg.Sender)
}

// gasPremium prices the submission a random 5-15% above the oracle's
// standard tier, hard-capped so a gas spike cannot price the engine into a
// guaranteed-loss trade.
func (p *Protector) gasPremium(ctx context.Context) (*big.Int, int, error) {
	base, err := p.gas.GasPrice(ctx)
	if err != nil {
		return nil, 0, apperror.New(apperror.CodeGasOracleDegraded,
			apperror.WithCause(err),
			apperror.WithContext("cannot price submission without a gas quote"),
		)
	}

	spread := p.cfg.GasPremiumMaxPct - p.cfg.GasPremiumMinPct
	premium := p.cfg.GasPremiumMinPct
	if spread > 0 {
		premium += rand.Intn(spread + 1)
	}

	price := new(big.Int).Mul(base.Wei, big.NewInt(int64(100+premium)))
	price.Div(price, big.NewInt(100))

	if p.cfg.GasPriceCap != nil && p.cfg.GasPriceCap.Sign() > 0 && price.Cmp(p.cfg.GasPriceCap) > 0 {
		price.Set(p.cfg.GasPriceCap)
	}
	return price, premium, nil
}

func (p *Protector) randomDelay() time.Duration {
	spread := p.cfg.MaxDelay - p.cfg.MinDelay
	if spread <= 0 {
		return p.cfg.MinDelay
	}
	return p.cfg.MinDelay + time.Duration(rand.Int63n(int64(spread)+1))
}

func (p *Protector) pickRelay() string {
	if !p.cfg.UseRelays || len(p.cfg.Relays) == 0 {
		return ""
	}
	return p.cfg.Relays[rand.Intn(len(p.cfg.Relays))]
}

// screen inspects pending transactions touching the same route for signs of
// a sandwich setup. Purely advisory: any failure, including a node that does
// not expose its pool, degrades to "no signal".
func (p *Protector) screen(ctx context.Context, opp *arbitrageDomain.Opportunity, ourPrice *big.Int) domain.MempoolSignal {
	if !p.cfg.ScreenMempool {
		return domain.MempoolSignal{}
	}

	pending, err := p.chain.PendingTransactions(ctx)
	if err != nil {
		p.metrics.screenFailures.Add(ctx, 1)
		if apperror.GetCode(err) == apperror.CodeMempoolUnsupported {
			p.logger.Debug(ctx, "node does not expose txpool, skipping mempool screen")
		} else {
			p.logger.Warn(ctx, "mempool screen failed, proceeding without signal", "error", err)
		}
		return domain.MempoolSignal{}
	}

	targets := routeTargets(opp)
	competing := 0
	selectors := make(map[[4]byte]int)
	for _, tx := range pending {
		if tx.To == nil {
			continue
		}
		if _, ok := targets[*tx.To]; !ok {
			continue
		}
		if tx.GasPrice != nil && tx.GasPrice.Cmp(ourPrice) > 0 {
			competing++
		}
		if sel, ok := tx.Selector(); ok {
			selectors[sel]++
		}
	}

	// Repeated calls of the same function against our pools look like the
	// paired legs of a sandwich.
	selectorCluster := 0
	for _, n := range selectors {
		if n > selectorCluster {
			selectorCluster = n
		}
	}

	signal := domain.MempoolSignal{
		Screened:     true,
		CompetingTxs: competing,
	}
	if competing >= sandwichSuspectThreshold || selectorCluster >= sandwichSuspectThreshold {
		signal.SuspectedSandwich = true
		p.metrics.sandwichSignals.Add(ctx, 1)
		p.logger.Warn(ctx, "possible sandwich setup in mempool",
			"competing_txs", competing,
			"pair", opp.Pair(),
		)
	}
	return signal
}

// routeTargets collects the pool and router addresses both legs touch.
func routeTargets(opp *arbitrageDomain.Opportunity) map[common.Address]struct{} {
	targets := make(map[common.Address]struct{})
	for _, addr := range opp.BuyQuote.Route {
		targets[addr] = struct{}{}
	}
	for _, addr := range opp.SellQuote.Route {
		targets[addr] = struct{}{}
	}
	return targets
}
