package app

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/venuelabs/microroute/internal/book"
	"github.com/venuelabs/microroute/internal/domain"
	"github.com/venuelabs/microroute/internal/feed"
	"github.com/venuelabs/microroute/internal/micro"
	"github.com/venuelabs/microroute/internal/planner"
	"github.com/venuelabs/microroute/internal/platform/binance"
	"github.com/venuelabs/microroute/internal/server"
	"github.com/venuelabs/microroute/internal/server/handler"
	serverws "github.com/venuelabs/microroute/internal/server/ws"
	"github.com/venuelabs/microroute/internal/venue"
	"github.com/venuelabs/microroute/internal/vol"
)

// engine bundles the in-process signal pipeline: the book store, the
// estimators, the scorer, the planner, and the dispatcher that connects them.
type engine struct {
	books      *book.Store
	micro      *micro.Estimator
	vol        *vol.Forecaster
	scorer     *venue.Scorer
	planner    *planner.Planner
	dispatcher *feed.Dispatcher
}

// lateFetcher defers snapshot-fetcher binding so the book store can be
// constructed before the component that serves resync snapshots (the
// synthetic generator needs the store, and the store needs a fetcher).
type lateFetcher struct {
	inner book.SnapshotFetcher
}

func (l *lateFetcher) FetchSnapshot(ctx context.Context, key domain.BookKey) (domain.BookSnapshot, error) {
	if l.inner == nil {
		return domain.BookSnapshot{}, fmt.Errorf("app: no snapshot source for %s/%s", key.Venue, key.Symbol)
	}
	return l.inner.FetchSnapshot(ctx, key)
}

// buildEngine constructs the signal pipeline over the wired dependencies.
func (a *App) buildEngine(deps *Dependencies, fetcher book.SnapshotFetcher) *engine {
	logger := a.logger

	books := book.NewStore(book.Config{
		QueueSize:         a.cfg.Book.QueueSize,
		ResyncTimeout:     a.cfg.Book.ResyncTimeout.Duration,
		ResyncBackoff:     a.cfg.Book.ResyncBackoff.Duration,
		MaxResyncAttempts: a.cfg.Book.MaxResyncAttempts,
	}, fetcher, logger)
	books.SetContiguityRule(binance.Venue, book.RangeContiguity)

	est := micro.NewEstimator(micro.Config{
		TopLevels:    a.cfg.Micro.TopLevels,
		TradeWindow:  a.cfg.Micro.TradeWindow.Duration,
		ReturnBuffer: a.cfg.Micro.ReturnBuffer,
		CancelWindow: a.cfg.Micro.CancelWindow.Duration,
		StaleAfter:   a.cfg.Micro.StaleAfter.Duration,
	}, logger)

	fc := vol.NewForecaster(vol.Config{
		HistorySize:     a.cfg.Vol.HistorySize,
		SampleInterval:  a.cfg.Vol.SampleInterval.Duration,
		ReestimateEvery: a.cfg.Vol.ReestimateEvery,
		MinSamples:      a.cfg.Vol.MinSamples,
	}, logger)

	// Depth comparisons need notional; use the average mid across venues.
	midFn := func(symbol string) float64 {
		var sum float64
		var n int
		for _, key := range books.Keys() {
			if key.Symbol != symbol {
				continue
			}
			b, err := books.GetSnapshot(key.Venue, key.Symbol)
			if err != nil {
				continue
			}
			if mid := b.MidPrice(); mid > 0 {
				sum += mid
				n++
			}
		}
		if n == 0 {
			return 0
		}
		return sum / float64(n)
	}
	scorer := venue.NewScorer(venue.DefaultConfig(), midFn, logger)

	// Seed every configured venue so routing works before the first
	// metrics refresh lands.
	for v, fee := range a.cfg.Venues.FeeBps {
		scorer.UpsertMetrics(domain.VenueMetrics{
			Venue:       v,
			FeeBps:      fee,
			Reliability: 1,
			UpdatedAt:   time.Now(),
		})
	}

	cost := planner.DefaultCostModel()
	if a.cfg.Planner.ImpactK > 0 {
		cost.ImpactK = a.cfg.Planner.ImpactK
	}
	pl := planner.NewPlanner(planner.Config{
		TightSpreadBps:        a.cfg.Planner.TightSpreadBps,
		HighMicroVol:          a.cfg.Planner.HighMicroVol,
		MaxParticipation:      a.cfg.Planner.MaxParticipation,
		DefaultHorizonMinutes: a.cfg.Planner.DefaultHorizonMinutes,
		Cost:                  cost,
	}, est, fc, scorer, books, deps.PlanStore, deps.SignalBus, logger)

	disp := feed.NewDispatcher(feed.Config{
		SubscribeBuffer:      a.cfg.Feed.SubscribeBuffer,
		MicroPublishInterval: a.cfg.Feed.MicroPublishInterval.Duration,
	}, books, est, fc, logger).
		WithBus(deps.SignalBus).
		WithCache(deps.BookCache)
	if deps.AuditStore != nil {
		disp.WithAudit(deps.AuditStore)
	}

	return &engine{
		books:      books,
		micro:      est,
		vol:        fc,
		scorer:     scorer,
		planner:    pl,
		dispatcher: disp,
	}
}

// runEngine starts the pipeline goroutines common to every mode that
// processes market data.
func (a *App) runEngine(ctx context.Context, g *errgroup.Group, eng *engine) {
	g.Go(func() error {
		return eng.dispatcher.Run(ctx)
	})
	g.Go(func() error {
		return eng.vol.Run(ctx)
	})
	g.Go(func() error {
		<-ctx.Done()
		eng.books.Close()
		return nil
	})
}

// startBinance connects the Binance websocket feed, seeds initial snapshots,
// and starts the venue metrics refresher.
func (a *App) startBinance(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) error {
	rest := binance.NewRESTClient(a.cfg.Venues.Binance.RestURL)
	wsc := binance.NewWSClient(a.cfg.Venues.Binance.WsURL)

	wsc.OnDelta(func(delta domain.BookDelta) {
		if err := eng.books.ApplyDelta(ctx, delta); err != nil {
			a.logger.WarnContext(ctx, "apply delta failed",
				slog.String("symbol", delta.Symbol),
				slog.String("error", err.Error()),
			)
		}
	})
	wsc.OnTrade(func(trade domain.Trade) {
		_ = eng.dispatcher.RecordTrade(ctx, trade)
	})

	if err := wsc.Connect(ctx); err != nil {
		return fmt.Errorf("binance connect: %w", err)
	}
	if err := wsc.Subscribe(ctx, a.cfg.Venues.Symbols); err != nil {
		wsc.Close()
		return fmt.Errorf("binance subscribe: %w", err)
	}
	g.Go(func() error {
		<-ctx.Done()
		return wsc.Close()
	})

	// Seed every tracked symbol with a full snapshot so deltas have a base
	// to land on. A failed seed is tolerated; the gap path resyncs.
	g.Go(func() error {
		for _, symbol := range a.cfg.Venues.Symbols {
			key := domain.BookKey{Venue: binance.Venue, Symbol: symbol}
			snap, err := rest.FetchSnapshot(ctx, key)
			if err != nil {
				a.logger.WarnContext(ctx, "initial snapshot failed",
					slog.String("symbol", symbol),
					slog.String("error", err.Error()),
				)
				continue
			}
			if err := eng.books.ApplySnapshot(ctx, snap); err != nil {
				return fmt.Errorf("seed snapshot %s: %w", symbol, err)
			}
			wsc.ResetSequence(symbol)
		}
		return nil
	})

	refresher := venue.NewRefresher(venue.RefresherConfig{
		Interval:   a.cfg.Venues.RefreshInterval.Duration,
		RateLimit:  a.cfg.Venues.RateLimit,
		RateWindow: a.cfg.Venues.RateWindow.Duration,
		FeeBps:     a.cfg.Venues.FeeBps,
	}, eng.scorer, eng.books, rest, deps.RateBudget, deps.VenueStatStore, a.logger)
	g.Go(func() error {
		return refresher.Run(ctx)
	})

	return nil
}

// startArchiver starts the cold-storage drain when both S3 and Postgres are
// wired and archiving is enabled.
func (a *App) startArchiver(ctx context.Context, g *errgroup.Group, deps *Dependencies) {
	if !a.cfg.Archive.Enabled || deps.Archiver == nil {
		return
	}
	retention := time.Duration(a.cfg.Archive.RetentionDays) * 24 * time.Hour
	interval := a.cfg.Archive.Interval.Duration
	g.Go(func() error {
		return deps.Archiver.Run(ctx, interval, retention)
	})
}

// s3Pinger adapts the S3 client's Health check to the handler.Pinger shape.
type s3Pinger struct {
	client interface {
		Health(ctx context.Context) error
	}
}

func (p s3Pinger) Ping(ctx context.Context) error {
	return p.client.Health(ctx)
}

// startHTTPServer registers the REST handlers and the WebSocket hub and adds
// the server's run and shutdown goroutines to the group.
func (a *App) startHTTPServer(ctx context.Context, g *errgroup.Group, deps *Dependencies, eng *engine) {
	pingers := map[string]handler.Pinger{
		"redis": deps.Redis,
	}
	if deps.Postgres != nil {
		pingers["postgres"] = deps.Postgres
	}
	if deps.S3 != nil {
		pingers["s3"] = s3Pinger{client: deps.S3}
	}

	hub := serverws.NewHub(deps.SignalBus, a.logger, serverws.Config{
		Mode:      a.cfg.Mode,
		StartedAt: time.Now().UTC(),
	})
	g.Go(func() error {
		return hub.Run(ctx)
	})

	handlers := server.Handlers{
		Health: handler.NewHealthHandler(a.logger, pingers),
		Books:  handler.NewBookHandler(eng.books, a.logger),
		Micro:  handler.NewMicroHandler(eng.micro, a.logger),
		Vol:    handler.NewVolHandler(eng.vol, a.logger),
		Plans:  handler.NewPlanHandler(eng.planner, deps.PlanStore, a.logger),
		Venues: handler.NewVenueHandler(eng.scorer, a.logger),
		Trades: handler.NewTradeHandler(eng.dispatcher, a.logger),
	}

	srv := server.NewServer(server.Config{
		Port:        a.cfg.Server.Port,
		CORSOrigins: a.cfg.Server.CORSOrigins,
		APIKey:      a.cfg.Server.APIKey,
		RateLimit:   a.cfg.Server.RateLimit,
		RateWindow:  a.cfg.Server.RateWindow.Duration,
	}, handlers, hub, deps.RateBudget, a.logger)

	g.Go(func() error {
		return srv.Start()
	})
	g.Go(func() error {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutCtx)
	})
}

// FullMode runs ingestion, estimation, planning, archiving, and the HTTP API.
func (a *App) FullMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting full mode")

	g, ctx := errgroup.WithContext(ctx)

	rest := binance.NewRESTClient(a.cfg.Venues.Binance.RestURL)
	eng := a.buildEngine(deps, rest)
	a.runEngine(ctx, g, eng)

	if err := a.startBinance(ctx, g, deps, eng); err != nil {
		return fmt.Errorf("full mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}

// IngestMode runs market data ingestion and estimation without the HTTP API.
// Signals are still published on the bus and mirrored into the cache, so a
// separate server-mode process can consume them.
func (a *App) IngestMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting ingest mode")

	g, ctx := errgroup.WithContext(ctx)

	rest := binance.NewRESTClient(a.cfg.Venues.Binance.RestURL)
	eng := a.buildEngine(deps, rest)
	a.runEngine(ctx, g, eng)

	if err := a.startBinance(ctx, g, deps, eng); err != nil {
		return fmt.Errorf("ingest mode: %w", err)
	}
	a.startArchiver(ctx, g, deps)

	return g.Wait()
}

// ServerMode serves the HTTP API without any live market data connection.
// Book endpoints report empty state; plan reads come from Postgres.
func (a *App) ServerMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting server mode")

	g, ctx := errgroup.WithContext(ctx)

	eng := a.buildEngine(deps, nil)
	a.runEngine(ctx, g, eng)
	a.startHTTPServer(ctx, g, deps, eng)

	return g.Wait()
}

// ReplayMode drives the engine with the deterministic synthetic feed instead
// of a live connection. Gap injection exercises the resync path end to end.
func (a *App) ReplayMode(ctx context.Context, deps *Dependencies) error {
	a.logger.InfoContext(ctx, "starting replay mode")

	g, ctx := errgroup.WithContext(ctx)

	fetcher := &lateFetcher{}
	eng := a.buildEngine(deps, fetcher)
	a.runEngine(ctx, g, eng)

	synCfg := feed.DefaultSyntheticConfig()
	synCfg.Seed = a.cfg.Feed.SyntheticSeed
	synCfg.Interval = a.cfg.Feed.SyntheticInterval.Duration
	if len(a.cfg.Venues.Symbols) > 0 {
		synCfg.Symbols = a.cfg.Venues.Symbols
	}
	syn := feed.NewSynthetic(synCfg, eng.books, eng.dispatcher, a.logger)
	fetcher.inner = syn
	g.Go(func() error {
		return syn.Run(ctx)
	})

	// The synthetic venues get a metrics refresher too, minus the latency
	// probe: spread and depth come from the generated books.
	refresher := venue.NewRefresher(venue.RefresherConfig{
		Interval:   a.cfg.Venues.RefreshInterval.Duration,
		RateLimit:  a.cfg.Venues.RateLimit,
		RateWindow: a.cfg.Venues.RateWindow.Duration,
		FeeBps:     a.cfg.Venues.FeeBps,
	}, eng.scorer, eng.books, nil, deps.RateBudget, deps.VenueStatStore, a.logger)
	g.Go(func() error {
		return refresher.Run(ctx)
	})

	if a.cfg.Server.Enabled {
		a.startHTTPServer(ctx, g, deps, eng)
	}

	return g.Wait()
}
