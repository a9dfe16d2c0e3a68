package tariff

import "time"

// Classification is the bucket assigned to a PricePoint by the
// percentile-threshold rule in classify.go.
type Classification string

const (
	Negative  Classification = "negative"
	Cheap     Classification = "cheap"
	Normal    Classification = "normal"
	Expensive Classification = "expensive"
)

// PricePoint is one half-hourly unit price, tagged with its derived
// classification.
type PricePoint struct {
	ValidFrom      time.Time
	ValidTo        time.Time
	UnitPrice      float64 // cost per kWh, minor currency unit, may be negative
	Classification Classification
}

// RawPoint is a PricePoint before classification, as supplied to Ingest.
type RawPoint struct {
	ValidFrom time.Time
	ValidTo   time.Time
	UnitPrice float64
}

// IngestReport summarizes the effect of one Ingest call.
type IngestReport struct {
	Inserted  int
	Updated   int
	Unchanged int
	Skipped   int // malformed records, logged and dropped, batch not aborted
}

// PriceWindowStats is derived from a window of PricePoints; it is never
// stored as primary truth.
type PriceWindowStats struct {
	Min, Max, Mean, Median             float64
	CheapThreshold, ExpensiveThreshold float64
	NegativeCount, CheapCount          int
	NormalCount, ExpensiveCount        int
	WindowStart, WindowEnd             time.Time
	OldestPoint, NewestPoint           time.Time
	HasData                            bool
}
