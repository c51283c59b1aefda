package collector

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tradecollector/config"
	"tradecollector/internal/okx/stream"
	"tradecollector/internal/okx/symbolset"
	"tradecollector/pkg/okx"
	"tradecollector/pkg/storage/postgres"
	"tradecollector/pkg/storage/tradelog"

	"go.uber.org/zap"
)

// Run builds the trade pipeline and streams until ctx is cancelled.
// It opens one trade log per configured symbol, optionally mirrors trades to
// Postgres, and keeps the OKX trades feed connected.
func Run(ctx context.Context, cfg *config.Config, logger *zap.Logger) error {
	symbols := symbolset.New(cfg.OKX.Symbols)

	stores, err := tradelog.OpenAll(cfg.Store.Dir, symbols.List(), tradelog.Options{Fsync: cfg.Store.Fsync})
	if err != nil {
		return fmt.Errorf("failed to open trade logs: %w", err)
	}
	defer func() {
		if err := tradelog.CloseAll(stores); err != nil {
			logger.Warn("failed to close trade logs", zap.Error(err))
		}
	}()
	logger.Info("trade logs ready", zap.String("dir", cfg.Store.Dir), zap.Int("symbols", symbols.Len()))

	appenders := make(map[string]stream.Appender, len(stores))
	for sym, s := range stores {
		appenders[sym] = s
	}

	var (
		opts   []stream.Option
		mirror *postgres.TradeMirror
	)
	if cfg.Postgres.Enabled {
		postgresClient, err := postgres.InitializeAndMigrateTradeRecord(cfg.Postgres, cfg.Log.Environment)
		if err != nil {
			return fmt.Errorf("failed to connect to DB: %w", err)
		}
		defer postgresClient.Close()
		if !postgresClient.IsHealthy(ctx) {
			logger.Warn("postgres ping failed, mirror inserts may be lost")
		} else {
			logMirroredRows(ctx, logger, postgresClient, symbols.List())
		}

		mirror = postgres.NewTradeMirror(postgresClient, cfg.Postgres.QueueSize, logger.Named("mirror"))
		mirror.StartWorker()
		defer mirror.Close()

		opts = append(opts, stream.WithMirror(mirror))
		logger.Info("postgres mirror enabled", zap.String("dbname", cfg.Postgres.DBName))
	}

	dispatcher, err := stream.NewDispatcher(symbols, appenders, logger.Named("dispatcher"), opts...)
	if err != nil {
		return err
	}

	ws := cfg.OKX.WS
	wsClient := okx.NewWSClient(ws.URL, symbols.List(), dispatcher, logger.Named("feed"), okx.Options{
		RequestID:        ws.RequestID,
		ReconnectDelay:   ws.ReconnectDelay,
		HandshakeTimeout: ws.HandshakeTimeout,
		PingInterval:     ws.PingInterval,
		ReadTimeout:      ws.ReadTimeout,
	})

	// Periodically print persisted trade counts for visibility
	statsCtx, stopStats := context.WithCancel(ctx)
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		reportStats(statsCtx, cfg.Stats.Interval, logger, dispatcher, wsClient, mirror)
	}()
	defer func() {
		stopStats()
		wg.Wait()
	}()

	err = wsClient.Run(ctx)
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		logger.Info("collector stopping", zap.Int64("frames", wsClient.Frames()))
		return nil
	}
	return err
}

func reportStats(ctx context.Context, interval time.Duration, logger *zap.Logger,
	d *stream.Dispatcher, c *okx.WSClient, mirror *postgres.TradeMirror) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
		}

		fields := []zap.Field{
			zap.Stringer("state", c.State()),
			zap.Int64("subscribes", c.Subscribes()),
			zap.Int64("frames", c.Frames()),
			zap.Int64("unknown", d.Unknown()),
		}
		for sym, s := range d.Stats() {
			fields = append(fields, zap.Int64(sym, s.Written))
			if s.Failed > 0 {
				fields = append(fields, zap.Int64(sym+".failed", s.Failed))
			}
		}
		if mirror != nil {
			fields = append(fields, zap.Int64("mirrored", mirror.Inserted()), zap.Int64("mirror_failed", mirror.Failed()))
		}
		logger.Info("current saved trades", fields...)
	}
}

type tradeCounter interface {
	CountTrades(ctx context.Context, symbol string) (int64, error)
}

func logMirroredRows(ctx context.Context, logger *zap.Logger, db tradeCounter, symbols []string) {
	ctx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	fields := make([]zap.Field, 0, len(symbols))
	for _, sym := range symbols {
		n, err := db.CountTrades(ctx, sym)
		if err != nil {
			logger.Warn("failed to count mirrored trades", zap.String("symbol", sym), zap.Error(err))
			return
		}
		fields = append(fields, zap.Int64(sym, n))
	}
	logger.Info("mirrored trades at startup", fields...)
}
