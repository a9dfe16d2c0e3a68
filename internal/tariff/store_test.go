package tariff

import (
	"context"
	"testing"
	"time"
)

type fakeRepo struct {
	points map[time.Time]PricePoint
}

func newFakeRepo() *fakeRepo {
	return &fakeRepo{points: make(map[time.Time]PricePoint)}
}

func (f *fakeRepo) UpsertPoints(ctx context.Context, points []PricePoint) error {
	for _, p := range points {
		f.points[p.ValidFrom.UTC()] = p
	}
	return nil
}

func (f *fakeRepo) GetWindow(ctx context.Context, start, end time.Time) ([]PricePoint, error) {
	var out []PricePoint
	for _, p := range f.points {
		if !p.ValidFrom.Before(start) && !p.ValidFrom.After(end) {
			out = append(out, p)
		}
	}
	return out, nil
}

func (f *fakeRepo) PruneOlderThan(ctx context.Context, cutoff time.Time) (int, error) {
	n := 0
	for k, p := range f.points {
		if p.ValidFrom.Before(cutoff) {
			delete(f.points, k)
			n++
		}
	}
	return n, nil
}

func halfHours(base time.Time, prices []float64) []RawPoint {
	points := make([]RawPoint, len(prices))
	for i, price := range prices {
		from := base.Add(time.Duration(i) * 30 * time.Minute)
		points[i] = RawPoint{ValidFrom: from, ValidTo: from.Add(30 * time.Minute), UnitPrice: price}
	}
	return points
}

func TestStoreIngestReportsCounts(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(repo, 7, nil)
	store.SetClock(func() time.Time { return base })

	report, err := store.Ingest(context.Background(), halfHours(base, []float64{10, 20, 30}))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Inserted != 3 || report.Updated != 0 || report.Unchanged != 0 {
		t.Fatalf("unexpected report on first ingest: %+v", report)
	}

	report, err = store.Ingest(context.Background(), append(
		halfHours(base, []float64{10, 99}),
	))
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Unchanged != 1 || report.Updated != 1 {
		t.Fatalf("unexpected report on second ingest: %+v", report)
	}
}

func TestStoreIngestSkipsMalformedRecords(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(repo, 7, nil)
	store.SetClock(func() time.Time { return base })

	points := halfHours(base, []float64{10, 20})
	points = append(points, RawPoint{ValidFrom: base.Add(time.Hour), ValidTo: base.Add(time.Hour), UnitPrice: 5})

	report, err := store.Ingest(context.Background(), points)
	if err != nil {
		t.Fatalf("Ingest: %v", err)
	}
	if report.Skipped != 1 {
		t.Fatalf("expected 1 skipped malformed record, got %d", report.Skipped)
	}
	if report.Inserted != 2 {
		t.Fatalf("expected 2 inserted, got %d", report.Inserted)
	}
}

func TestClassificationIdempotence(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := make([]PricePoint, 0)
	prices := []float64{-2, -1, 1, 2, 3, 4, 5, 6, 7, 30}
	for i, price := range prices {
		from := base.Add(time.Duration(i) * 30 * time.Minute)
		points = append(points, PricePoint{ValidFrom: from, ValidTo: from.Add(30 * time.Minute), UnitPrice: price})
	}

	once := classifyWindow(points)
	twice := classifyWindow(once)

	for i := range once {
		if once[i].Classification != twice[i].Classification {
			t.Fatalf("classification not idempotent at index %d: %s vs %s", i, once[i].Classification, twice[i].Classification)
		}
	}
}

func TestClassifyNegativeAlwaysNegative(t *testing.T) {
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	points := []PricePoint{
		{ValidFrom: base, UnitPrice: -5},
		{ValidFrom: base.Add(30 * time.Minute), UnitPrice: 10},
	}
	classified := classifyWindow(points)
	if classified[0].Classification != Negative {
		t.Fatalf("expected negative classification, got %s", classified[0].Classification)
	}
}

func TestStats(t *testing.T) {
	repo := newFakeRepo()
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	store := New(repo, 7, nil)
	store.SetClock(func() time.Time { return base })

	if _, err := store.Ingest(context.Background(), halfHours(base, []float64{1, 2, 3, 4, 5})); err != nil {
		t.Fatalf("Ingest: %v", err)
	}

	stats, err := store.Stats(context.Background(), base, base.Add(48*time.Hour))
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}
	if !stats.HasData {
		t.Fatalf("expected HasData true")
	}
	if stats.Min != 1 || stats.Max != 5 {
		t.Fatalf("unexpected min/max: %+v", stats)
	}
}

func TestStatsEmptyWindowNotFatal(t *testing.T) {
	repo := newFakeRepo()
	store := New(repo, 7, nil)

	stats, err := store.Stats(context.Background(), time.Now(), time.Now().Add(time.Hour))
	if err != nil {
		t.Fatalf("Stats on empty store should not error: %v", err)
	}
	if stats.HasData {
		t.Fatalf("expected HasData false for empty store")
	}
}
