package observation

import (
	"fmt"
	"strings"
	"time"
)

// DefaultRetention is how long a record survives after it was last seen
const DefaultRetention = 90 * 24 * time.Hour

const (
	partitionPrefix = "SERVICE#"
	sortPrefix      = "CALLER#"
	keyDelimiter    = "#"
)

// PartitionKey returns the store partition holding every record of a service
func PartitionKey(serviceName string) string {
	return partitionPrefix + serviceName
}

// SortKey returns the record key within a service partition. Method and path
// template are assumed not to contain the delimiter; the caller may.
func SortKey(caller, method, pathTemplate string) string {
	return sortPrefix + caller + keyDelimiter + method + keyDelimiter + pathTemplate
}

// ParseSortKey splits a sort key built by SortKey. Method and path are taken
// from the right so callers containing the delimiter survive the round trip.
func ParseSortKey(sk string) (caller, method, pathTemplate string, err error) {
	rest, ok := strings.CutPrefix(sk, sortPrefix)
	if !ok {
		return "", "", "", fmt.Errorf("sort key %q lacks %q prefix", sk, sortPrefix)
	}
	pathIdx := strings.LastIndex(rest, keyDelimiter)
	if pathIdx < 0 {
		return "", "", "", fmt.Errorf("sort key %q has no path segment", sk)
	}
	methodIdx := strings.LastIndex(rest[:pathIdx], keyDelimiter)
	if methodIdx < 0 {
		return "", "", "", fmt.Errorf("sort key %q has no method segment", sk)
	}
	return rest[:methodIdx], rest[methodIdx+1 : pathIdx], rest[pathIdx+1:], nil
}

// Record is the persisted, store-owned accumulation of every summary ever
// written for one endpoint-caller pair. A nil set means the attribute was
// never written.
type Record struct {
	ServiceName    string
	Caller         string
	Method         string
	PathTemplate   string
	CallCount      int64
	FirstSeen      time.Time
	LastSeen       time.Time
	RequestFields  StringSet
	RequestHeaders StringSet
	QueryParams    StringSet
	ResponseCodes  StringSet
	ExpiresAt      time.Time
}

// NewRecord creates an empty record for key
func NewRecord(key Key) *Record {
	return &Record{
		ServiceName:  key.ServiceName,
		Caller:       key.Caller,
		Method:       key.Method,
		PathTemplate: key.PathTemplate,
	}
}

// Key returns the record's endpoint-caller key
func (r *Record) Key() Key {
	return Key{
		ServiceName:  r.ServiceName,
		Caller:       r.Caller,
		Method:       r.Method,
		PathTemplate: r.PathTemplate,
	}
}

// SortKey returns the record's key within its service partition
func (r *Record) SortKey() string {
	return SortKey(r.Caller, r.Method, r.PathTemplate)
}

// Apply performs the upsert protocol against the record: last seen is
// overwritten, first seen is only set when absent, the call count is added,
// non-empty sets are unioned in (empty ones leave the attribute untouched)
// and the expiry watermark is recomputed from the new last seen.
//
// Stores without a native partial update call Apply inside their own
// single-record atomic section.
func (r *Record) Apply(agg *AggregatedObservation, retention time.Duration) {
	r.LastSeen = agg.LastSeen
	if r.FirstSeen.IsZero() {
		r.FirstSeen = agg.FirstSeen
	}
	r.CallCount += agg.CallCount
	r.RequestFields = unionNonEmpty(r.RequestFields, agg.RequestFields)
	r.RequestHeaders = unionNonEmpty(r.RequestHeaders, agg.RequestHeaders)
	r.QueryParams = unionNonEmpty(r.QueryParams, agg.QueryParams)
	r.ResponseCodes = unionNonEmpty(r.ResponseCodes, agg.ResponseCodes)
	r.ExpiresAt = agg.LastSeen.Add(retention)
}

func unionNonEmpty(stored, added StringSet) StringSet {
	if added.Len() == 0 {
		return stored
	}
	if stored == nil {
		stored = make(StringSet, added.Len())
	}
	stored.Union(added)
	return stored
}

// Clone returns a deep copy; absent sets stay nil
func (r *Record) Clone() *Record {
	out := *r
	out.RequestFields = cloneOrNil(r.RequestFields)
	out.RequestHeaders = cloneOrNil(r.RequestHeaders)
	out.QueryParams = cloneOrNil(r.QueryParams)
	out.ResponseCodes = cloneOrNil(r.ResponseCodes)
	return &out
}

func cloneOrNil(s StringSet) StringSet {
	if s == nil {
		return nil
	}
	return s.Clone()
}
