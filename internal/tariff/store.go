package tariff

import (
	"context"
	"fmt"
	"log"
	"math"
	"sort"
	"time"
)

// Repo is the persistence contract the store needs; internal/storage
// provides the Postgres-backed implementation.
type Repo interface {
	UpsertPoints(ctx context.Context, points []PricePoint) error
	GetWindow(ctx context.Context, start, end time.Time) ([]PricePoint, error)
	PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error)
}

// Store is the tariff store and classifier (spec §4.1).
type Store struct {
	repo          Repo
	retentionDays int
	logger        *log.Logger
	now           func() time.Time
}

// New creates a Store backed by repo, retaining a rolling window of
// retentionDays. A nil logger falls back to log.Default().
func New(repo Repo, retentionDays int, logger *log.Logger) *Store {
	if logger == nil {
		logger = log.Default()
	}
	return &Store{
		repo:          repo,
		retentionDays: retentionDays,
		logger:        logger,
		now:           time.Now,
	}
}

// SetClock overrides the store's time source, for deterministic tests.
func (s *Store) SetClock(now func() time.Time) {
	s.now = now
}

// Ingest upserts raw points by valid_from, skipping malformed records
// with a warning rather than aborting the whole batch, then
// reclassifies the look-ahead window so classification stays current.
func (s *Store) Ingest(ctx context.Context, raw []RawPoint) (IngestReport, error) {
	var report IngestReport

	clean := make([]RawPoint, 0, len(raw))
	for _, p := range raw {
		if err := validateRawPoint(p); err != nil {
			s.logger.Printf("tariff: skipping malformed price point at %s: %v", p.ValidFrom, err)
			report.Skipped++
			continue
		}
		clean = append(clean, p)
	}

	if len(clean) == 0 {
		return report, nil
	}

	now := s.now().UTC()
	windowStart := now
	windowEnd := now.Add(48 * time.Hour)

	existing, err := s.repo.GetWindow(ctx, windowStart, windowEnd)
	if err != nil {
		return report, fmt.Errorf("tariff: failed to read existing window: %w", err)
	}
	existingByTime := make(map[time.Time]PricePoint, len(existing))
	for _, p := range existing {
		existingByTime[p.ValidFrom.UTC()] = p
	}

	merged := make(map[time.Time]PricePoint, len(existingByTime)+len(clean))
	for k, v := range existingByTime {
		merged[k] = v
	}
	for _, p := range clean {
		key := p.ValidFrom.UTC()
		prior, existed := existingByTime[key]
		switch {
		case !existed:
			report.Inserted++
		case prior.UnitPrice != p.UnitPrice || !prior.ValidTo.Equal(p.ValidTo):
			report.Updated++
		default:
			report.Unchanged++
		}
		merged[key] = PricePoint{ValidFrom: p.ValidFrom.UTC(), ValidTo: p.ValidTo.UTC(), UnitPrice: p.UnitPrice}
	}

	flat := make([]PricePoint, 0, len(merged))
	for _, p := range merged {
		flat = append(flat, p)
	}
	sort.Slice(flat, func(i, j int) bool { return flat[i].ValidFrom.Before(flat[j].ValidFrom) })

	classified := classifyWindow(flat)

	if err := s.repo.UpsertPoints(ctx, classified); err != nil {
		return report, fmt.Errorf("tariff: failed to persist points: %w", err)
	}

	if cutoff := now.AddDate(0, 0, -s.retentionDays); true {
		if _, err := s.repo.PruneOlderThan(ctx, cutoff); err != nil {
			s.logger.Printf("tariff: retention prune failed: %v", err)
		}
	}

	return report, nil
}

func validateRawPoint(p RawPoint) error {
	if p.ValidFrom.IsZero() || p.ValidTo.IsZero() {
		return fmt.Errorf("valid_from/valid_to must be set")
	}
	if !p.ValidTo.After(p.ValidFrom) {
		return fmt.Errorf("valid_to must be after valid_from")
	}
	if math.IsNaN(p.UnitPrice) || math.IsInf(p.UnitPrice, 0) {
		return fmt.Errorf("unit_price is not a finite number")
	}
	return nil
}

// GetWindow returns ordered PricePoints for [start, end]. Missing
// coverage is not fatal: callers receive whatever is available.
func (s *Store) GetWindow(ctx context.Context, start, end time.Time) ([]PricePoint, error) {
	points, err := s.repo.GetWindow(ctx, start, end)
	if err != nil {
		return nil, fmt.Errorf("tariff: failed to read window: %w", err)
	}
	sort.Slice(points, func(i, j int) bool { return points[i].ValidFrom.Before(points[j].ValidFrom) })
	return points, nil
}

// Stats computes PriceWindowStats over [start, end].
func (s *Store) Stats(ctx context.Context, start, end time.Time) (PriceWindowStats, error) {
	points, err := s.GetWindow(ctx, start, end)
	if err != nil {
		return PriceWindowStats{}, err
	}
	return computeStats(points, start, end), nil
}

func computeStats(points []PricePoint, start, end time.Time) PriceWindowStats {
	stats := PriceWindowStats{WindowStart: start, WindowEnd: end}
	if len(points) == 0 {
		return stats
	}
	stats.HasData = true
	stats.OldestPoint = points[0].ValidFrom
	stats.NewestPoint = points[0].ValidFrom

	prices := make([]float64, 0, len(points))
	nonNegative := make([]float64, 0, len(points))
	sum := 0.0
	stats.Min = math.Inf(1)
	stats.Max = math.Inf(-1)

	for _, p := range points {
		prices = append(prices, p.UnitPrice)
		if p.UnitPrice >= 0 {
			nonNegative = append(nonNegative, p.UnitPrice)
		}
		sum += p.UnitPrice
		if p.UnitPrice < stats.Min {
			stats.Min = p.UnitPrice
		}
		if p.UnitPrice > stats.Max {
			stats.Max = p.UnitPrice
		}
		if p.ValidFrom.Before(stats.OldestPoint) {
			stats.OldestPoint = p.ValidFrom
		}
		if p.ValidFrom.After(stats.NewestPoint) {
			stats.NewestPoint = p.ValidFrom
		}
		switch p.Classification {
		case Negative:
			stats.NegativeCount++
		case Cheap:
			stats.CheapCount++
		case Normal:
			stats.NormalCount++
		case Expensive:
			stats.ExpensiveCount++
		}
	}

	stats.Mean = sum / float64(len(prices))
	sort.Float64s(nonNegative)
	stats.CheapThreshold = percentile(nonNegative, 0.33)
	stats.ExpensiveThreshold = percentile(nonNegative, 0.67)

	sortedAll := append([]float64(nil), prices...)
	sort.Float64s(sortedAll)
	stats.Median = percentile(sortedAll, 0.5)

	return stats
}

// PruneOlderThan deletes points older than cutoff, for callers that
// want to force retention outside of the opportunistic ingest-time GC.
func (s *Store) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n, err := s.repo.PruneOlderThan(ctx, cutoff)
	if err != nil {
		return 0, fmt.Errorf("tariff: prune failed: %w", err)
	}
	return n, nil
}
