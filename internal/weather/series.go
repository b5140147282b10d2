package weather

import (
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"sort"
	"time"
)

// Series is a time-indexed table of climate variables for one
// (location, source, resolution) triple. Missing values are NaN.
// Invariants: Times strictly increasing, every column has len(Times) entries.
type Series struct {
	Resolution Resolution
	Times      []time.Time
	Values     map[Variable][]float64

	// Sources lists the providers that contributed data, in order.
	// A freshly fetched series has exactly one entry; fusion appends.
	Sources []string
}

// NewSeries allocates an empty series over the given timestamps.
func NewSeries(res Resolution, times []time.Time) *Series {
	return &Series{
		Resolution: res,
		Times:      times,
		Values:     make(map[Variable][]float64),
	}
}

// Len returns the number of timesteps.
func (s *Series) Len() int {
	return len(s.Times)
}

// Column returns the values for a variable, or nil if absent.
func (s *Series) Column(v Variable) []float64 {
	return s.Values[v]
}

// SetColumn installs a column, which must match the series length.
func (s *Series) SetColumn(v Variable, vals []float64) error {
	if len(vals) != len(s.Times) {
		return fmt.Errorf("column %s has %d values, series has %d timesteps", v, len(vals), len(s.Times))
	}
	s.Values[v] = vals
	return nil
}

// HasColumn reports whether the variable is present.
func (s *Series) HasColumn(v Variable) bool {
	_, ok := s.Values[v]
	return ok
}

// Variables returns the present variable names in stable order.
func (s *Series) Variables() []Variable {
	vars := make([]Variable, 0, len(s.Values))
	for v := range s.Values {
		vars = append(vars, v)
	}
	sort.Slice(vars, func(i, j int) bool { return vars[i] < vars[j] })
	return vars
}

// IndexOf returns the position of timestamp t, or -1 if absent.
func (s *Series) IndexOf(t time.Time) int {
	i := sort.Search(len(s.Times), func(i int) bool { return !s.Times[i].Before(t) })
	if i < len(s.Times) && s.Times[i].Equal(t) {
		return i
	}
	return -1
}

// Range returns the covered date range, or an error on an empty series.
func (s *Series) Range() (DateRange, error) {
	if len(s.Times) == 0 {
		return DateRange{}, errors.New("empty series has no range")
	}
	return NewDateRange(s.Times[0], s.Times[len(s.Times)-1])
}

// Clone deep-copies the series.
func (s *Series) Clone() *Series {
	out := NewSeries(s.Resolution, append([]time.Time(nil), s.Times...))
	out.Sources = append([]string(nil), s.Sources...)
	for v, col := range s.Values {
		out.Values[v] = append([]float64(nil), col...)
	}
	return out
}

// Validate checks the series invariants: strictly increasing timestamps and
// uniform column lengths.
func (s *Series) Validate() error {
	for i := 1; i < len(s.Times); i++ {
		if !s.Times[i].After(s.Times[i-1]) {
			return fmt.Errorf("timestamps not strictly increasing at index %d (%s)", i, s.Times[i])
		}
	}
	for v, col := range s.Values {
		if len(col) != len(s.Times) {
			return fmt.Errorf("column %s length %d does not match %d timesteps", v, len(col), len(s.Times))
		}
	}
	return nil
}

// seriesJSON is the wire form of Series. NaN is not representable in JSON,
// so missing values travel as null.
type seriesJSON struct {
	Resolution Resolution              `json:"resolution"`
	Times      []time.Time             `json:"times"`
	Values     map[Variable][]*float64 `json:"values"`
	Sources    []string                `json:"sources,omitempty"`
}

// MarshalJSON encodes NaN values as null.
func (s *Series) MarshalJSON() ([]byte, error) {
	w := seriesJSON{
		Resolution: s.Resolution,
		Times:      s.Times,
		Values:     make(map[Variable][]*float64, len(s.Values)),
		Sources:    s.Sources,
	}
	for v, col := range s.Values {
		ptrs := make([]*float64, len(col))
		for i := range col {
			if !math.IsNaN(col[i]) {
				x := col[i]
				ptrs[i] = &x
			}
		}
		w.Values[v] = ptrs
	}
	return json.Marshal(w)
}

// UnmarshalJSON decodes null values back to NaN.
func (s *Series) UnmarshalJSON(data []byte) error {
	var w seriesJSON
	if err := json.Unmarshal(data, &w); err != nil {
		return err
	}
	s.Resolution = w.Resolution
	s.Times = w.Times
	s.Sources = w.Sources
	s.Values = make(map[Variable][]float64, len(w.Values))
	for v, ptrs := range w.Values {
		col := make([]float64, len(ptrs))
		for i, p := range ptrs {
			if p == nil {
				col[i] = math.NaN()
			} else {
				col[i] = *p
			}
		}
		s.Values[v] = col
	}
	return nil
}

// Intersect reduces a set of series to their common timestamps, preserving
// order. Returns the aligned copies; the result is empty if the series share
// no timestamps.
func Intersect(series []*Series) []*Series {
	if len(series) == 0 {
		return nil
	}

	common := make(map[time.Time]struct{}, len(series[0].Times))
	for _, t := range series[0].Times {
		common[t.UTC()] = struct{}{}
	}
	for _, s := range series[1:] {
		next := make(map[time.Time]struct{}, len(common))
		for _, t := range s.Times {
			if _, ok := common[t.UTC()]; ok {
				next[t.UTC()] = struct{}{}
			}
		}
		common = next
	}

	shared := make([]time.Time, 0, len(common))
	for t := range common {
		shared = append(shared, t)
	}
	sort.Slice(shared, func(i, j int) bool { return shared[i].Before(shared[j]) })

	out := make([]*Series, len(series))
	for si, s := range series {
		aligned := NewSeries(s.Resolution, shared)
		aligned.Sources = append([]string(nil), s.Sources...)
		for v, col := range s.Values {
			sub := make([]float64, len(shared))
			for i, t := range shared {
				idx := s.IndexOf(t)
				if idx < 0 {
					sub[i] = math.NaN()
				} else {
					sub[i] = col[idx]
				}
			}
			aligned.Values[v] = sub
		}
		out[si] = aligned
	}
	return out
}
