package postgres

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"tradecollector/internal/model"

	"go.uber.org/zap"
)

const (
	mirrorBatchSize = 200
	insertTimeout   = 5 * time.Second
)

// TradeInserter is satisfied by *PostgresClient.
type TradeInserter interface {
	InsertTrades(ctx context.Context, records []*TradeRecord) error
}

// TradeMirror copies persisted trades to Postgres from a bounded queue.
// A single worker drains the queue, so per-symbol order is kept.
type TradeMirror struct {
	db     TradeInserter
	logger *zap.Logger
	queue  chan model.TradeRecord

	mu      sync.RWMutex
	started bool
	closed  bool
	done    chan struct{}

	inserted atomic.Int64
	failed   atomic.Int64
}

func NewTradeMirror(db TradeInserter, queueSize int, logger *zap.Logger) *TradeMirror {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &TradeMirror{
		db:     db,
		logger: logger,
		queue:  make(chan model.TradeRecord, queueSize),
		done:   make(chan struct{}),
	}
}

// StartWorker begins draining the queue. Calling it more than once is a no-op.
func (m *TradeMirror) StartWorker() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.started || m.closed {
		return
	}
	m.started = true

	go func() {
		defer close(m.done)
		for r := range m.queue {
			batch := []model.TradeRecord{r}
		drain:
			for len(batch) < mirrorBatchSize {
				select {
				case next, ok := <-m.queue:
					if !ok {
						break drain
					}
					batch = append(batch, next)
				default:
					break drain
				}
			}
			m.flush(batch)
		}
	}()
}

// Enqueue offers r to the worker without blocking. It returns false when the
// queue is full or the mirror is closed.
func (m *TradeMirror) Enqueue(r model.TradeRecord) bool {
	m.mu.RLock()
	defer m.mu.RUnlock()
	if m.closed {
		return false
	}
	select {
	case m.queue <- r:
		return true
	default:
		return false
	}
}

// Close stops accepting records and waits until the queue has been flushed.
func (m *TradeMirror) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	close(m.queue)
	started := m.started
	m.mu.Unlock()

	if started {
		<-m.done
	}
}

// Inserted and Failed count records handed to, or lost by, the database.
func (m *TradeMirror) Inserted() int64 { return m.inserted.Load() }
func (m *TradeMirror) Failed() int64 { return m.failed.Load() }

func (m *TradeMirror) flush(batch []model.TradeRecord) {
	rows := make([]*TradeRecord, 0, len(batch))
	for _, r := range batch {
		row, err := ToTradeRecord(r)
		if err != nil {
			m.failed.Add(1)
			m.logger.Warn("failed to convert trade to mirror record",
				zap.String("symbol", r.Symbol()),
				zap.String("trade_id", r.TradeID()),
				zap.Error(err),
			)
			continue
		}
		rows = append(rows, row)
	}
	if len(rows) == 0 {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), insertTimeout)
	defer cancel()
	if err := m.db.InsertTrades(ctx, rows); err != nil {
		m.failed.Add(int64(len(rows)))
		m.logger.Warn("failed to insert trades into mirror", zap.Int("count", len(rows)), zap.Error(err))
		return
	}
	m.inserted.Add(int64(len(rows)))
}
