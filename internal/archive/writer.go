package archive

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"pricehub/internal/config"
	"pricehub/internal/domain"

	"gitlab.com/nevasik7/alerting/logger"
)

// Append-only archive of accepted ticks for offline audit. Batches in a
// channel-fed loop so the hot write path never waits on ClickHouse
type Writer struct {
	log  logger.Logger
	conn *Conn
	cfg  config.ClickHouseConfig

	inCh      chan domain.PriceTick
	closedCh  chan struct{}
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewWriter(log logger.Logger, cfg *config.ClickHouseConfig, conn *Conn) (*Writer, error) {
	if cfg == nil {
		return nil, errors.New("clickhouse config is required to the writer")
	}
	if conn == nil {
		return nil, errors.New("clickhouse conn is required to the writer")
	}

	wcfg := *cfg
	if wcfg.Table == "" {
		wcfg.Table = "price_ticks"
	}
	if wcfg.Writer.BatchMaxRows <= 0 {
		wcfg.Writer.BatchMaxRows = 1000
	}
	if wcfg.Writer.BatchMaxInterval <= 0 {
		wcfg.Writer.BatchMaxInterval = 200 * time.Millisecond
	}
	if wcfg.Writer.MaxRetries < 0 {
		wcfg.Writer.MaxRetries = 0
	}
	if wcfg.Writer.RetryBackoff <= 0 {
		wcfg.Writer.RetryBackoff = 200 * time.Millisecond
	}

	w := &Writer{
		log:      log,
		conn:     conn,
		cfg:      wcfg,
		inCh:     make(chan domain.PriceTick, 8192),
		closedCh: make(chan struct{}),
	}

	w.wg.Add(1)
	go w.loop()

	return w, nil
}

// Enqueue never blocks the caller beyond channel capacity; a full buffer
// drops the row with an error rather than stalling the price path
func (w *Writer) Enqueue(tick *domain.PriceTick) error {
	select {
	case <-w.closedCh:
		return errors.New("archive writer closed")
	default:
	}

	select {
	case w.inCh <- *tick:
		return nil
	case <-w.closedCh:
		return errors.New("archive writer closed")
	default:
		return errors.New("archive buffer full")
	}
}

func (w *Writer) Health(ctx context.Context) error {
	return w.conn.Native.Ping(ctx)
}

func (w *Writer) Close(ctx context.Context) error {
	w.closeOnce.Do(func() {
		close(w.closedCh)
		close(w.inCh)
	})

	done := make(chan struct{})
	go func() {
		w.wg.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

func (w *Writer) loop() {
	defer w.wg.Done()

	batch := make([]domain.PriceTick, 0, w.cfg.Writer.BatchMaxRows)
	t := time.NewTicker(w.cfg.Writer.BatchMaxInterval)
	defer t.Stop()

	flush := func() {
		if len(batch) == 0 {
			return
		}
		if err := w.flush(batch); err != nil {
			w.log.Errorf("Failed to flush %d archived ticks, error=%v", len(batch), err)
		}
		batch = batch[:0]
	}

	for {
		select {
		case tick, ok := <-w.inCh:
			if !ok {
				flush()
				return
			}
			batch = append(batch, tick)
			if len(batch) >= w.cfg.Writer.BatchMaxRows {
				flush()
			}
		case <-t.C:
			flush()
		}
	}
}

func (w *Writer) flush(rows []domain.PriceTick) error {
	var lastErr error
	for attempt := 0; attempt <= w.cfg.Writer.MaxRetries; attempt++ {
		if attempt > 0 {
			time.Sleep(w.cfg.Writer.RetryBackoff)
		}
		if lastErr = w.send(rows); lastErr == nil {
			return nil
		}
	}
	return lastErr
}

func (w *Writer) send(rows []domain.PriceTick) error {
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	batch, err := w.conn.Native.PrepareBatch(ctx, fmt.Sprintf("INSERT INTO %s", w.cfg.Table))
	if err != nil {
		return fmt.Errorf("prepare batch: %w", err)
	}

	for i := range rows {
		r := &rows[i]
		if err = batch.Append(
			r.Timestamp,
			r.Key,
			r.PriceUSD,
			r.PriceInQuote,
			r.QuoteRateUSD,
			r.Source,
			r.Volume24h,
			r.Change24h,
			r.MarketCapUSD,
		); err != nil {
			return fmt.Errorf("append row: %w", err)
		}
	}

	return batch.Send()
}
