package data

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// KlineFetcher pulls candles from a Binance-compatible klines REST
// endpoint, with a client-side rate limit and exponential-backoff
// retries on transient failures.
type KlineFetcher struct {
	logger  *zap.Logger
	client  *http.Client
	limiter *rate.Limiter
	baseURL string
	retries uint64
}

// NewKlineFetcher creates a fetcher from config.
func NewKlineFetcher(logger *zap.Logger, cfg types.FetcherConfig) *KlineFetcher {
	timeout := cfg.RequestTimeout
	if timeout == 0 {
		timeout = 10 * time.Second
	}
	rps := cfg.RequestsPerSec
	if rps <= 0 {
		rps = 5
	}
	retries := cfg.MaxRetries
	if retries <= 0 {
		retries = 3
	}
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = "https://api.binance.com"
	}
	return &KlineFetcher{
		logger:  logger,
		client:  &http.Client{Timeout: timeout},
		limiter: rate.NewLimiter(rate.Every(time.Second/time.Duration(rps)), rps),
		baseURL: strings.TrimRight(baseURL, "/"),
		retries: uint64(retries),
	}
}

const fetchLimit = 1000

// Fetch retrieves bars for [start, end], paging through the upstream
// limit until the range is covered.
func (f *KlineFetcher) Fetch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	var all []types.OHLCV
	cursor := start

	for !cursor.After(end) {
		batch, err := f.fetchPage(ctx, symbol, timeframe, cursor, end)
		if err != nil {
			return nil, err
		}
		if len(batch) == 0 {
			break
		}
		all = append(all, batch...)
		cursor = batch[len(batch)-1].Timestamp.Add(timeframe.Duration())
		if len(batch) < fetchLimit {
			break
		}
	}

	f.logger.Debug("fetched klines",
		zap.String("symbol", symbol),
		zap.String("timeframe", string(timeframe)),
		zap.Int("bars", len(all)),
	)
	return all, nil
}

func (f *KlineFetcher) fetchPage(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	q := url.Values{}
	q.Set("symbol", strings.ReplaceAll(symbol, "/", ""))
	q.Set("interval", string(timeframe))
	q.Set("startTime", fmt.Sprintf("%d", start.UnixMilli()))
	q.Set("endTime", fmt.Sprintf("%d", end.UnixMilli()))
	q.Set("limit", fmt.Sprintf("%d", fetchLimit))
	endpoint := f.baseURL + "/api/v3/klines?" + q.Encode()

	var bars []types.OHLCV
	operation := func() error {
		if err := f.limiter.Wait(ctx); err != nil {
			return backoff.Permanent(err)
		}

		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return backoff.Permanent(err)
		}
		resp, err := f.client.Do(req)
		if err != nil {
			return err
		}
		defer resp.Body.Close()

		body, err := io.ReadAll(resp.Body)
		if err != nil {
			return err
		}
		if resp.StatusCode != http.StatusOK {
			err := fmt.Errorf("klines request returned %d: %s", resp.StatusCode, body)
			if resp.StatusCode >= 400 && resp.StatusCode < 500 && resp.StatusCode != http.StatusTooManyRequests {
				return backoff.Permanent(err)
			}
			return err
		}

		bars, err = parseKlines(body)
		if err != nil {
			return backoff.Permanent(err)
		}
		return nil
	}

	policy := backoff.WithMaxRetries(backoff.NewExponentialBackOff(), f.retries)
	if err := backoff.Retry(operation, backoff.WithContext(policy, ctx)); err != nil {
		return nil, fmt.Errorf("failed to fetch klines for %s: %w", symbol, err)
	}
	return bars, nil
}

// parseKlines decodes the Binance klines array-of-arrays payload:
// [openTime, open, high, low, close, volume, closeTime, ...].
func parseKlines(body []byte) ([]types.OHLCV, error) {
	var rows [][]json.RawMessage
	if err := json.Unmarshal(body, &rows); err != nil {
		return nil, fmt.Errorf("unexpected klines payload: %w", err)
	}

	bars := make([]types.OHLCV, 0, len(rows))
	for i, row := range rows {
		if len(row) < 6 {
			return nil, fmt.Errorf("kline row %d has %d fields", i, len(row))
		}
		var openTime int64
		if err := json.Unmarshal(row[0], &openTime); err != nil {
			return nil, fmt.Errorf("kline row %d open time: %w", i, err)
		}

		fields := make([]decimal.Decimal, 5)
		for j := 1; j <= 5; j++ {
			var str string
			if err := json.Unmarshal(row[j], &str); err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j, err)
			}
			d, err := decimal.NewFromString(str)
			if err != nil {
				return nil, fmt.Errorf("kline row %d field %d: %w", i, j, err)
			}
			fields[j-1] = d
		}

		bars = append(bars, types.OHLCV{
			Timestamp: time.UnixMilli(openTime).UTC(),
			Open:      fields[0],
			High:      fields[1],
			Low:       fields[2],
			Close:     fields[3],
			Volume:    fields[4],
		})
	}
	return bars, nil
}
