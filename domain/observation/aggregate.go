package observation

import (
	"sort"
	"strconv"
	"time"
)

// AggregatedObservation summarises every observation of one endpoint-caller
// pair within a single aggregation pass. It is owned by the pass that
// created it and is the unit written to the store.
type AggregatedObservation struct {
	ServiceName    string
	Caller         string
	Method         string
	PathTemplate   string
	RequestFields  StringSet
	RequestHeaders StringSet
	QueryParams    StringSet
	ResponseCodes  StringSet
	CallCount      int64
	FirstSeen      time.Time
	LastSeen       time.Time
}

func newAggregated(obs Observation) *AggregatedObservation {
	return &AggregatedObservation{
		ServiceName:    obs.ServiceName,
		Caller:         obs.Caller,
		Method:         obs.Method,
		PathTemplate:   obs.PathTemplate,
		RequestFields:  obs.RequestFields.Clone(),
		RequestHeaders: obs.RequestHeaders.Clone(),
		QueryParams:    obs.QueryParams.Clone(),
		ResponseCodes:  NewStringSet(strconv.Itoa(obs.StatusCode)),
		CallCount:      1,
		FirstSeen:      obs.Timestamp,
		LastSeen:       obs.Timestamp,
	}
}

// Key returns the grouping key of the summary
func (a *AggregatedObservation) Key() Key {
	return Key{
		ServiceName:  a.ServiceName,
		Caller:       a.Caller,
		Method:       a.Method,
		PathTemplate: a.PathTemplate,
	}
}

// observe folds one more observation of the same key into the summary
func (a *AggregatedObservation) observe(obs Observation) {
	a.RequestFields.Union(obs.RequestFields)
	a.RequestHeaders.Union(obs.RequestHeaders)
	a.QueryParams.Union(obs.QueryParams)
	a.ResponseCodes.Add(strconv.Itoa(obs.StatusCode))
	a.CallCount++
	a.widen(obs.Timestamp, obs.Timestamp)
}

// Merge folds another summary of the same key into a. other is not modified.
func (a *AggregatedObservation) Merge(other *AggregatedObservation) {
	a.ensureSets()
	a.RequestFields.Union(other.RequestFields)
	a.RequestHeaders.Union(other.RequestHeaders)
	a.QueryParams.Union(other.QueryParams)
	a.ResponseCodes.Union(other.ResponseCodes)
	a.CallCount += other.CallCount
	a.widen(other.FirstSeen, other.LastSeen)
}

func (a *AggregatedObservation) ensureSets() {
	if a.RequestFields == nil {
		a.RequestFields = StringSet{}
	}
	if a.RequestHeaders == nil {
		a.RequestHeaders = StringSet{}
	}
	if a.QueryParams == nil {
		a.QueryParams = StringSet{}
	}
	if a.ResponseCodes == nil {
		a.ResponseCodes = StringSet{}
	}
}

// widen extends [FirstSeen, LastSeen]; ties keep the existing bound
func (a *AggregatedObservation) widen(first, last time.Time) {
	if first.Before(a.FirstSeen) {
		a.FirstSeen = first
	}
	if last.After(a.LastSeen) {
		a.LastSeen = last
	}
}

// Clone returns a deep copy
func (a *AggregatedObservation) Clone() *AggregatedObservation {
	out := *a
	out.RequestFields = a.RequestFields.Clone()
	out.RequestHeaders = a.RequestHeaders.Clone()
	out.QueryParams = a.QueryParams.Clone()
	out.ResponseCodes = a.ResponseCodes.Clone()
	return &out
}

// Aggregate merges a batch of observations into one summary per
// (service, caller, method, path template). The output follows the order in
// which keys first appear; an empty batch yields an empty slice.
func Aggregate(observations []Observation) []*AggregatedObservation {
	groups := make(map[Key]*AggregatedObservation, len(observations))
	result := make([]*AggregatedObservation, 0, len(observations))

	for _, obs := range observations {
		key := obs.Key()
		if agg, ok := groups[key]; ok {
			agg.observe(obs)
			continue
		}
		agg := newAggregated(obs)
		groups[key] = agg
		result = append(result, agg)
	}

	return result
}

// Combine re-aggregates summaries, for example the outputs of several
// Aggregate calls. Combine(Aggregate(a) ++ Aggregate(b)) describes the same
// traffic as Aggregate(a ++ b). The inputs are left untouched.
func Combine(summaries []*AggregatedObservation) []*AggregatedObservation {
	groups := make(map[Key]*AggregatedObservation, len(summaries))
	result := make([]*AggregatedObservation, 0, len(summaries))

	for _, s := range summaries {
		key := s.Key()
		if agg, ok := groups[key]; ok {
			agg.Merge(s)
			continue
		}
		agg := s.Clone()
		groups[key] = agg
		result = append(result, agg)
	}

	return result
}

// SortAggregated orders summaries by service, caller, method and path
func SortAggregated(summaries []*AggregatedObservation) {
	sort.Slice(summaries, func(i, j int) bool {
		return lessKey(summaries[i].Key(), summaries[j].Key())
	})
}

func lessKey(a, b Key) bool {
	if a.ServiceName != b.ServiceName {
		return a.ServiceName < b.ServiceName
	}
	if a.Caller != b.Caller {
		return a.Caller < b.Caller
	}
	if a.Method != b.Method {
		return a.Method < b.Method
	}
	return a.PathTemplate < b.PathTemplate
}
