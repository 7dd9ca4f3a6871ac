// Package data provides market data storage, loading, and fetching.
package data

import (
	"context"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math"
	"os"
	"path/filepath"
	"sort"
	"sync"
	"time"

	"github.com/shopspring/decimal"
	"github.com/tradeforge/strategy-engine/pkg/types"
	"go.uber.org/zap"
)

// Fetcher pulls bars from an upstream exchange when the store has no
// local file for a symbol.
type Fetcher interface {
	Fetch(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error)
}

// Store provides access to historical market data. Bars live in JSON
// files under dataDir, one per symbol and timeframe, with an in-memory
// cache in front.
type Store struct {
	mu       sync.RWMutex
	logger   *zap.Logger
	dataDir  string
	fetcher  Fetcher
	cache    map[string][]types.OHLCV
	metadata map[string]*SymbolMetadata
}

// SymbolMetadata describes the available data for a symbol.
type SymbolMetadata struct {
	Symbol    string    `json:"symbol"`
	StartDate time.Time `json:"startDate"`
	EndDate   time.Time `json:"endDate"`
	BarCount  int       `json:"barCount"`
	Timeframe string    `json:"timeframe"`
}

// Option configures a Store.
type Option func(*Store)

// WithFetcher attaches an upstream fetcher used when no local file
// exists for a requested symbol.
func WithFetcher(f Fetcher) Option {
	return func(s *Store) { s.fetcher = f }
}

// NewStore creates a data store rooted at dataDir.
func NewStore(logger *zap.Logger, dataDir string, opts ...Option) (*Store, error) {
	store := &Store{
		logger:   logger,
		dataDir:  dataDir,
		cache:    make(map[string][]types.OHLCV),
		metadata: make(map[string]*SymbolMetadata),
	}
	for _, opt := range opts {
		opt(store)
	}

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return nil, fmt.Errorf("failed to create data directory: %w", err)
	}
	if err := store.loadMetadata(); err != nil {
		logger.Warn("failed to load metadata", zap.Error(err))
	}
	return store, nil
}

func cacheKey(symbol string, timeframe types.Timeframe) string {
	return fmt.Sprintf("%s_%s", symbol, timeframe)
}

// LoadOHLCV loads bars for a symbol within [start, end]. Resolution
// order: memory cache, JSON file, upstream fetcher, then a
// deterministic generated series as a last resort so local development
// works without any data on disk.
func (s *Store) LoadOHLCV(ctx context.Context, symbol string, timeframe types.Timeframe, start, end time.Time) ([]types.OHLCV, error) {
	key := cacheKey(symbol, timeframe)

	s.mu.RLock()
	cached, ok := s.cache[key]
	s.mu.RUnlock()
	if ok {
		return filterByTimeRange(cached, start, end), nil
	}

	bars, err := s.loadFile(symbol, timeframe)
	if err == nil {
		s.put(key, symbol, timeframe, bars)
		return filterByTimeRange(bars, start, end), nil
	}
	if !os.IsNotExist(err) {
		return nil, err
	}

	if s.fetcher != nil {
		fetched, ferr := s.fetcher.Fetch(ctx, symbol, timeframe, start, end)
		if ferr != nil {
			s.logger.Warn("fetch failed, falling back to generated data",
				zap.String("symbol", symbol), zap.Error(ferr))
		} else if len(fetched) > 0 {
			if serr := s.SaveOHLCV(symbol, timeframe, fetched); serr != nil {
				s.logger.Warn("failed to persist fetched bars", zap.Error(serr))
			}
			return filterByTimeRange(fetched, start, end), nil
		}
	}

	s.logger.Info("generating sample data",
		zap.String("symbol", symbol), zap.String("timeframe", string(timeframe)))
	sample := GenerateSampleData(symbol, timeframe, start, end)
	s.put(key, symbol, timeframe, sample)
	return sample, nil
}

func (s *Store) loadFile(symbol string, timeframe types.Timeframe) ([]types.OHLCV, error) {
	filename := filepath.Join(s.dataDir, cacheKey(symbol, timeframe)+".json")
	raw, err := os.ReadFile(filename)
	if err != nil {
		return nil, err
	}
	var bars []types.OHLCV
	if err := json.Unmarshal(raw, &bars); err != nil {
		return nil, fmt.Errorf("failed to parse %s: %w", filename, err)
	}
	sort.Slice(bars, func(i, j int) bool {
		return bars[i].Timestamp.Before(bars[j].Timestamp)
	})
	return bars, nil
}

func (s *Store) put(key, symbol string, timeframe types.Timeframe, bars []types.OHLCV) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.cache[key] = bars
	if len(bars) > 0 {
		s.metadata[symbol] = &SymbolMetadata{
			Symbol:    symbol,
			StartDate: bars[0].Timestamp,
			EndDate:   bars[len(bars)-1].Timestamp,
			BarCount:  len(bars),
			Timeframe: string(timeframe),
		}
	}
}

// SaveOHLCV writes bars to disk and refreshes the cache and metadata.
func (s *Store) SaveOHLCV(symbol string, timeframe types.Timeframe, bars []types.OHLCV) error {
	raw, err := json.MarshalIndent(bars, "", "  ")
	if err != nil {
		return fmt.Errorf("failed to marshal bars: %w", err)
	}
	filename := filepath.Join(s.dataDir, cacheKey(symbol, timeframe)+".json")
	if err := os.WriteFile(filename, raw, 0644); err != nil {
		return fmt.Errorf("failed to write %s: %w", filename, err)
	}

	s.put(cacheKey(symbol, timeframe), symbol, timeframe, bars)

	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.saveMetadataLocked()
}

// AvailableSymbols returns every symbol with known data.
func (s *Store) AvailableSymbols() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	symbols := make([]string, 0, len(s.metadata))
	for symbol := range s.metadata {
		symbols = append(symbols, symbol)
	}
	sort.Strings(symbols)
	return symbols
}

// DataRange returns the available range for a symbol.
func (s *Store) DataRange(symbol string) (start, end time.Time, err error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if meta, ok := s.metadata[symbol]; ok {
		return meta.StartDate, meta.EndDate, nil
	}
	return time.Time{}, time.Time{}, fmt.Errorf("no data available for symbol %s", symbol)
}

func (s *Store) metadataPath() string {
	return filepath.Join(s.dataDir, "metadata.json")
}

func (s *Store) loadMetadata() error {
	raw, err := os.ReadFile(s.metadataPath())
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return err
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return json.Unmarshal(raw, &s.metadata)
}

func (s *Store) saveMetadataLocked() error {
	raw, err := json.MarshalIndent(s.metadata, "", "  ")
	if err != nil {
		return err
	}
	return os.WriteFile(s.metadataPath(), raw, 0644)
}

func filterByTimeRange(bars []types.OHLCV, start, end time.Time) []types.OHLCV {
	filtered := make([]types.OHLCV, 0, len(bars))
	for _, bar := range bars {
		if !start.IsZero() && bar.Timestamp.Before(start) {
			continue
		}
		if !end.IsZero() && bar.Timestamp.After(end) {
			continue
		}
		filtered = append(filtered, bar)
	}
	return filtered
}

// GenerateSampleData produces a synthetic bar series. The generator is
// a seeded linear congruential walk keyed on symbol and timeframe, so
// the same request always yields the same series and backtests over
// generated data stay reproducible.
func GenerateSampleData(symbol string, timeframe types.Timeframe, start, end time.Time) []types.OHLCV {
	interval := timeframe.Duration()

	var price float64
	switch symbol {
	case "BTC/USDT":
		price = 40000
	case "ETH/USDT":
		price = 2000
	case "SOL/USDT":
		price = 100
	default:
		price = 100
	}

	h := fnv.New64a()
	h.Write([]byte(symbol + "_" + string(timeframe)))
	seed := h.Sum64()

	next := func() float64 {
		seed = seed*6364136223846793005 + 1442695040888963407
		return float64(seed>>11) / float64(1<<53)
	}

	var bars []types.OHLCV
	for current := start; !current.After(end); current = current.Add(interval) {
		open := price
		price = math.Max(price*(1+(next()-0.5)*0.02), 0.01)
		high := math.Max(open, price) * (1 + next()*0.005)
		low := math.Min(open, price) * (1 - next()*0.005)

		bars = append(bars, types.OHLCV{
			Timestamp: current,
			Open:      decimal.NewFromFloat(open),
			High:      decimal.NewFromFloat(high),
			Low:       decimal.NewFromFloat(low),
			Close:     decimal.NewFromFloat(price),
			Volume:    decimal.NewFromFloat(next() * 1000000),
		})
	}
	return bars
}
