// Package app 负责应用级编排：加载配置→初始化依赖→启动调度循环与查询服务。
package app

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"sync"
	"time"

	"golang.org/x/sync/errgroup"

	"midas/internal/alert"
	"midas/internal/broker"
	"midas/internal/config"
	"midas/internal/fill"
	"midas/internal/logger"
	"midas/internal/marketdata"
	"midas/internal/order"
	"midas/internal/portfolio"
	"midas/internal/position"
	"midas/internal/runner"
	"midas/internal/schedule"
	"midas/internal/store/sqlite"
	"midas/internal/strategy"
	livehttp "midas/internal/transport/http/live"
)

// App 持有全部已装配的组件。
type App struct {
	cfg      *config.Config
	store    *sqlite.SqliteStore
	sched    *schedule.Scheduler
	ledger   *position.Ledger
	md       *marketdata.Store
	runner   *runner.Runner
	liveHTTP *livehttp.Server

	// stopCh 由券商层的资金安全阀触发，立即终止整个进程。
	stopCh   chan struct{}
	stopOnce sync.Once
}

// New 根据配置构建应用对象（不启动）。
func New(cfg *config.Config) (*App, error) {
	if cfg == nil {
		return nil, fmt.Errorf("nil config")
	}
	logger.SetLevel(cfg.App.LogLevel)

	a := &App{cfg: cfg, stopCh: make(chan struct{})}

	st, err := sqlite.NewSqliteStore(cfg.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("opening store: %w", err)
	}
	a.store = st

	var notifier alert.TextNotifier
	if cfg.Alerts.TextAlerts {
		tw := cfg.Alerts.Twilio
		notifier = alert.NewTwilio(tw.AccountSID, tw.AuthToken, tw.From, tw.To)
	}
	alerter := alert.NewAlerter(notifier, cfg.Alerts.TextAlerts)

	a.sched = schedule.New(cfg.App.MaxSleep())

	tda, err := broker.NewTDA(cfg.Accounts, a.sched, alerter, a.requestStop)
	if err != nil {
		return nil, fmt.Errorf("building broker client: %w", err)
	}

	refresh := time.Duration(cfg.MarketData.RefreshSeconds) * time.Second
	a.md = marketdata.NewStore(tda, refresh)

	a.ledger = position.NewLedger(tda, st.Positions(), st.PnL(), alerter)
	pool := order.NewPool()
	checker := fill.NewChecker(tda, pool, a.ledger, a.md, a.sched, alerter)

	strategies, err := strategy.LoadManifest(cfg.Strategies.ManifestPath)
	if err != nil {
		return nil, fmt.Errorf("loading strategies: %w", err)
	}
	lookbacks := make(map[string]int, len(strategies))
	names := make([]string, 0, len(strategies))
	for _, s := range strategies {
		lookbacks[s.Name()] = s.DDLookback()
		names = append(names, s.Name())
		a.md.Watch(s.Symbols()...)
	}
	sort.Strings(names)

	allocator := portfolio.NewAllocator(st.PnL(), tda, cfg.Allocations, lookbacks)
	splits := runner.NewStaticSplitTracker(cfg.Splits.Symbols)
	a.runner = runner.New(tda, pool, a.ledger, a.md, allocator, checker, a.sched, splits, alerter, strategies)

	if cfg.App.HTTPAddr != "" {
		router := livehttp.NewRouter(a.ledger, pool, a.sched, allocator, names)
		srv, err := livehttp.NewServer(livehttp.ServerConfig{Addr: cfg.App.HTTPAddr, Router: router})
		if err != nil {
			return nil, err
		}
		a.liveHTTP = srv
	}

	logger.Infof("✓ 已装配 %d 个策略: %v", len(names), names)
	return a, nil
}

// requestStop 触发进程级停机。满足幂等，重复触发只生效一次。
func (a *App) requestStop() {
	a.stopOnce.Do(func() { close(a.stopCh) })
}

// Run 恢复持仓账本并启动调度循环、行情轮询与 HTTP 服务，直到 ctx 取消、
// 安全阀触发或任一组件出错。
func (a *App) Run(ctx context.Context) error {
	if a == nil || a.cfg == nil {
		return fmt.Errorf("app not initialized")
	}
	defer a.store.Close()

	for account := range a.cfg.Accounts {
		if err := a.ledger.Load(ctx, account); err != nil {
			return fmt.Errorf("restoring ledger for account %d: %w", account, err)
		}
	}

	group, ctx := errgroup.WithContext(ctx)

	a.runner.Start(ctx)

	group.Go(func() error {
		return a.sched.Run(ctx)
	})
	group.Go(func() error {
		return a.md.Run(ctx)
	})
	if a.liveHTTP != nil {
		group.Go(func() error {
			if err := a.liveHTTP.Start(ctx); err != nil {
				return fmt.Errorf("live http server error: %w", err)
			}
			return nil
		})
	}
	group.Go(func() error {
		select {
		case <-ctx.Done():
			return nil
		case <-a.stopCh:
			return fmt.Errorf("capital safety stop triggered")
		}
	})

	err := group.Wait()
	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
