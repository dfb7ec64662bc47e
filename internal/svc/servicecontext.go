package svc

import (
	"context"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/zeromicro/go-zero/core/logx"
	"github.com/zeromicro/go-zero/core/threading"

	"perpcore/internal/config"
	"perpcore/internal/events"
	"perpcore/internal/metrics"
	"perpcore/pkg/advisory"
	"perpcore/pkg/advisory/llm"
	"perpcore/pkg/confkit"
	"perpcore/pkg/cooldown"
	exchangepkg "perpcore/pkg/exchange"
	_ "perpcore/pkg/exchange/hyperliquid"
	"perpcore/pkg/exchange/sim"
	"perpcore/pkg/lifecycle"
	"perpcore/pkg/market"
	"perpcore/pkg/notify"
	"perpcore/pkg/regime"
	"perpcore/pkg/risk"
	"perpcore/pkg/store"
)

const limiterOwner = "cooldown"

type ServiceContext struct {
	Config config.Config

	Store     store.Store
	Exchange  exchangepkg.Client
	Advisory  advisory.Transport
	Alerts    notify.Sink
	Metrics   *metrics.Recorder
	Publisher *events.Publisher

	Limiter *cooldown.Limiter
	Risk    *risk.Manager
	Brain   *regime.Brain
	Desk    *lifecycle.Desk

	closers []io.Closer
}

func MustNewServiceContext(c config.Config) *ServiceContext {
	svc, err := NewServiceContext(c)
	logx.Must(err)
	return svc
}

// NewServiceContext builds every component from c. Nothing runs until Start.
func NewServiceContext(c config.Config) (*ServiceContext, error) {
	svc := &ServiceContext{
		Config:  c,
		Metrics: metrics.New(prometheus.NewRegistry()),
	}

	st, closer, err := openStore(c)
	if err != nil {
		return nil, err
	}
	svc.Store = st
	svc.addCloser(closer)

	if svc.Exchange, err = NewExchange(c); err != nil {
		svc.Close()
		return nil, err
	}
	if svc.Alerts, err = buildAlerts(c); err != nil {
		svc.Close()
		return nil, err
	}
	if cl, ok := svc.Alerts.(io.Closer); ok {
		svc.addCloser(cl)
	}
	svc.Advisory = buildAdvisory(c)

	cdCfg, err := c.CooldownConfig()
	if err != nil {
		svc.Close()
		return nil, err
	}
	svc.Limiter = cooldown.New(cdCfg, cooldown.WithStore(st, limiterOwner))
	svc.Risk = risk.NewManager(c.RiskLimits(), risk.WithStore(st), risk.WithObserver(svc.Metrics))

	if c.Events.Enabled() {
		pub, err := events.NewPublisher(c.Events, events.WithWriteHook(svc.Metrics.DecisionEmitted))
		if err != nil {
			svc.Close()
			return nil, err
		}
		svc.Publisher = pub
		svc.addCloser(pub)
	}

	if err := svc.buildDecisionCore(); err != nil {
		svc.Close()
		return nil, err
	}
	return svc, nil
}

func (svc *ServiceContext) buildDecisionCore() error {
	c := svc.Config
	policies := c.Policies()
	names := make([]string, 0, len(policies))
	for _, p := range policies {
		names = append(names, p.Name)
	}
	regimeCfg, err := c.RegimeConfig(names)
	if err != nil {
		return err
	}
	prompts, err := advisory.LoadPrompts(c.PromptDir())
	if err != nil {
		return fmt.Errorf("svc: prompts: %w", err)
	}
	builder := market.NewBuilder(svc.Exchange, market.WithInterval(c.Regime.CandleInterval, c.Regime.CandleLookback))

	var desk *lifecycle.Desk
	opts := []regime.Option{
		regime.WithLogStore(svc.Store),
		regime.WithObserver(svc.Metrics),
		regime.WithPositionSource(func() []advisory.PositionView { return desk.PositionViews() }),
	}
	if svc.Publisher != nil {
		opts = append(opts, regime.WithPublisher(svc.Publisher))
	}
	brain, err := regime.NewBrain(regimeCfg, svc.Advisory, prompts, svc.Limiter, builder, opts...)
	if err != nil {
		return fmt.Errorf("svc: regime brain: %w", err)
	}

	desk = lifecycle.NewDesk(svc.Exchange, svc.Risk,
		lifecycle.WithDeskAlerts(svc.Alerts),
		lifecycle.WithScanner(brain),
	)
	for _, p := range policies {
		s, err := lifecycle.NewStrategy(p, svc.Exchange, svc.Risk,
			lifecycle.WithStore(svc.Store),
			lifecycle.WithLimiter(svc.Limiter),
			lifecycle.WithAlerts(svc.Alerts),
			lifecycle.WithMarketState(brain.State),
			lifecycle.WithObserver(svc.Metrics),
		)
		if err != nil {
			return fmt.Errorf("svc: strategy %s: %w", p.Name, err)
		}
		if err := desk.Register(s); err != nil {
			return err
		}
	}
	brain.SetProposalSink(desk.Deliver)
	brain.SetManageSink(desk.Manage)

	svc.Brain = brain
	svc.Desk = desk
	return nil
}

// Restore reloads persisted limiter, risk and strategy state.
func (svc *ServiceContext) Restore(ctx context.Context) error {
	return errors.Join(
		svc.Limiter.Restore(ctx),
		svc.Risk.Restore(ctx),
		svc.Desk.Restore(ctx),
	)
}

// Start runs the regime cycles and the desk ticker until ctx is done.
func (svc *ServiceContext) Start(ctx context.Context) {
	threading.GoSafe(func() { svc.Brain.Run(ctx) })
	threading.GoSafe(func() { svc.Desk.Run(ctx, svc.Config.Tick()) })
}

// Close releases the store and the event writer.
func (svc *ServiceContext) Close() {
	for i := len(svc.closers) - 1; i >= 0; i-- {
		if err := svc.closers[i].Close(); err != nil {
			logx.Errorf("svc: close: %v", err)
		}
	}
	svc.closers = nil
}

func (svc *ServiceContext) addCloser(c io.Closer) {
	if c != nil {
		svc.closers = append(svc.closers, c)
	}
}

// NewExchange builds the configured default exchange, or the paper exchange
// when no exchange section is set.
func NewExchange(c config.Config) (exchangepkg.Client, error) {
	if !c.Exchange.Loaded() {
		logx.Info("svc: no exchange config, using the paper exchange")
		return sim.New(), nil
	}
	exchangeCfg := c.Exchange.Value
	applyEnvironment(c, exchangeCfg)
	client, err := exchangeCfg.BuildDefault()
	if err != nil {
		return nil, fmt.Errorf("svc: exchange: %w", err)
	}
	return client, nil
}

// applyEnvironment forces testnet endpoints in the test environment.
func applyEnvironment(c config.Config, exchangeCfg *exchangepkg.Config) {
	if !c.IsTestEnv() {
		return
	}
	for _, provider := range exchangeCfg.Providers {
		provider.Testnet = true
	}
}

func buildAdvisory(c config.Config) advisory.Transport {
	if !c.Advisory.Loaded() {
		return advisory.Noop{}
	}
	client, err := llm.NewClient(c.Advisory.Value)
	if err != nil {
		logx.Errorf("svc: advisory disabled: %v", err)
		return advisory.Noop{}
	}
	return client
}

func buildAlerts(c config.Config) (notify.Sink, error) {
	var sinks notify.Multi
	if c.Notify.LogAlerts {
		sinks = append(sinks, notify.Log{})
	}
	if c.Notify.Webhook.URL != "" {
		timeout, err := confkit.Duration("notify.webhook.timeout", c.Notify.Webhook.Timeout, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("svc: %w", err)
		}
		hook, err := notify.NewWebhook(notify.WebhookConfig{
			URL:        c.Notify.Webhook.URL,
			Timeout:    timeout,
			RetryCount: c.Notify.Webhook.RetryCount,
			Headers:    c.Notify.Webhook.Headers,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, hook)
	}
	if len(sinks) == 0 {
		return notify.Noop{}, nil
	}
	return sinks, nil
}
