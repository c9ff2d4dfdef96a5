package barfeed

import (
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"

	"github.com/parquet-go/parquet-go"

	"jupitor/internal/domain"
)

// Cache is an optional Parquet-backed bar history store, one file per
// symbol, directly grounded on internal/store/parquet.go's
// write-merge-dedupe-by-timestamp pattern applied to a single Bar schema
// instead of that store's BarRecord/TradeRecord pair.
type Cache struct {
	DataDir string
}

// NewCache creates a Cache rooted at dataDir.
func NewCache(dataDir string) *Cache {
	return &Cache{DataDir: dataDir}
}

// barRecord is the on-disk Parquet schema for one cached bar.
type barRecord struct {
	Symbol    string  `parquet:"symbol"`
	OpenMillis int64  `parquet:"open_millis,timestamp(millisecond)"`
	Open      float64 `parquet:"open"`
	High      float64 `parquet:"high"`
	Low       float64 `parquet:"low"`
	Close     float64 `parquet:"close"`
	Volume    float64 `parquet:"volume"`
}

func (c *Cache) path(symbol string) string {
	return filepath.Join(c.DataDir, strings.ToUpper(symbol)+".parquet")
}

// Append merges bars into symbol's cache file, deduplicating by open time
// and keeping the newest write for a given bar.
func (c *Cache) Append(symbol string, bars []domain.Bar) error {
	if len(bars) == 0 {
		return nil
	}
	path := c.path(symbol)

	existing, _ := readParquetFile[barRecord](path)
	merged := mergeBarRecords(existing, toRecords(symbol, bars))

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	return parquet.WriteFile(path, merged)
}

// Read returns every cached bar for symbol, ordered by open time ascending.
func (c *Cache) Read(symbol string) ([]domain.Bar, error) {
	records, err := readParquetFile[barRecord](c.path(symbol))
	if err != nil {
		if os.IsNotExist(err) {
			return nil, nil
		}
		return nil, err
	}
	bars := make([]domain.Bar, 0, len(records))
	for _, r := range records {
		bars = append(bars, fromRecord(r))
	}
	return bars, nil
}

func toRecords(symbol string, bars []domain.Bar) []barRecord {
	out := make([]barRecord, 0, len(bars))
	for _, b := range bars {
		out = append(out, barRecord{
			Symbol:     symbol,
			OpenMillis: b.Open.UnixMilli(),
			Open:       b.O,
			High:       b.H,
			Low:        b.L,
			Close:      b.C,
			Volume:     b.Volume,
		})
	}
	return out
}

func fromRecord(r barRecord) domain.Bar {
	return domain.Bar{
		Symbol: r.Symbol,
		Open:   time.UnixMilli(r.OpenMillis).UTC(),
		O:      r.Open,
		H:      r.High,
		L:      r.Low,
		C:      r.Close,
		Volume: r.Volume,
	}
}

func readParquetFile[T any](path string) ([]T, error) {
	return parquet.ReadFile[T](path)
}

// mergeBarRecords deduplicates by open time, preferring incoming records
// over existing ones, and returns the result sorted open-time ascending.
func mergeBarRecords(existing, incoming []barRecord) []barRecord {
	seen := make(map[int64]barRecord, len(existing)+len(incoming))
	for _, r := range existing {
		seen[r.OpenMillis] = r
	}
	for _, r := range incoming {
		seen[r.OpenMillis] = r
	}
	merged := make([]barRecord, 0, len(seen))
	for _, r := range seen {
		merged = append(merged, r)
	}
	sort.Slice(merged, func(i, j int) bool { return merged[i].OpenMillis < merged[j].OpenMillis })
	return merged
}
