// Package docs turns stored consumer records into documentation: an
// endpoint map grouped by route, a markdown section that can be kept inside
// a repository file, and an HTML rendering of the same content.
package docs

import (
	"sort"
	"time"

	"consumerdocs/domain/observation"
)

// CallerUsage describes how one caller uses one endpoint
type CallerUsage struct {
	Caller         string    `json:"caller"`
	CallCount      int64     `json:"call_count"`
	FirstSeen      time.Time `json:"first_seen"`
	LastSeen       time.Time `json:"last_seen"`
	RequestFields  []string  `json:"request_fields"`
	RequestHeaders []string  `json:"request_headers"`
	QueryParams    []string  `json:"query_params"`
	ResponseCodes  []string  `json:"response_codes"`
}

// Endpoint is one route together with every caller seen on it
type Endpoint struct {
	Method       string        `json:"method"`
	PathTemplate string        `json:"path_template"`
	Callers      []CallerUsage `json:"callers"`
}

// Name returns the "METHOD /path" label of the endpoint
func (e Endpoint) Name() string {
	return e.Method + " " + e.PathTemplate
}

// TotalCalls sums the call counts of every caller
func (e Endpoint) TotalCalls() int64 {
	var total int64
	for _, c := range e.Callers {
		total += c.CallCount
	}
	return total
}

// Transform groups records by endpoint. Endpoints are sorted by name and
// callers by call count descending, ties broken by caller name, so the
// generated output is stable between runs.
func Transform(records []observation.Record) []Endpoint {
	byName := make(map[string]*Endpoint)
	for _, rec := range records {
		ep := Endpoint{Method: rec.Method, PathTemplate: rec.PathTemplate}
		existing, ok := byName[ep.Name()]
		if !ok {
			existing = &ep
			byName[ep.Name()] = existing
		}
		existing.Callers = append(existing.Callers, CallerUsage{
			Caller:         rec.Caller,
			CallCount:      rec.CallCount,
			FirstSeen:      rec.FirstSeen,
			LastSeen:       rec.LastSeen,
			RequestFields:  rec.RequestFields.Sorted(),
			RequestHeaders: rec.RequestHeaders.Sorted(),
			QueryParams:    rec.QueryParams.Sorted(),
			ResponseCodes:  rec.ResponseCodes.Sorted(),
		})
	}

	endpoints := make([]Endpoint, 0, len(byName))
	for _, ep := range byName {
		sort.Slice(ep.Callers, func(i, j int) bool {
			if ep.Callers[i].CallCount != ep.Callers[j].CallCount {
				return ep.Callers[i].CallCount > ep.Callers[j].CallCount
			}
			return ep.Callers[i].Caller < ep.Callers[j].Caller
		})
		endpoints = append(endpoints, *ep)
	}
	sort.Slice(endpoints, func(i, j int) bool {
		return endpoints[i].Name() < endpoints[j].Name()
	})
	return endpoints
}
