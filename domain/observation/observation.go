// Package observation holds the shape model of captured HTTP traffic: the
// per-request Observation, the per-batch AggregatedObservation and the
// store-owned Record, together with the pure aggregation functions that
// merge them.
//
// Only names are ever recorded. Request field values, header values and
// query parameter values never enter this package.
package observation

import (
	"fmt"
	"strings"
	"time"

	"consumerdocs/pkg/utils"
)

// UnknownCaller is the caller identity used when none can be resolved
const UnknownCaller = "unknown"

// Key identifies an endpoint-caller pair
type Key struct {
	ServiceName  string
	Caller       string
	Method       string
	PathTemplate string
}

// String renders the key for logs
func (k Key) String() string {
	return fmt.Sprintf("%s %s %s %s", k.ServiceName, k.Caller, k.Method, k.PathTemplate)
}

// Observation describes one endpoint invocation. It is produced once per
// captured request and never mutated afterwards.
type Observation struct {
	ServiceName    string `validate:"required"`
	Caller         string `validate:"required"`
	Method         string `validate:"required"`
	PathTemplate   string `validate:"required"`
	RequestFields  StringSet
	RequestHeaders StringSet
	QueryParams    StringSet
	StatusCode     int `validate:"gte=0,lte=999"`
	Timestamp      time.Time
}

// New normalises and validates an observation assembled by a capture
// adapter. The name sets are copied so the caller may reuse its own maps,
// the method is upper-cased, a blank caller becomes UnknownCaller and a zero
// timestamp is replaced with the current UTC time.
func New(o Observation) (Observation, error) {
	o.ServiceName = strings.TrimSpace(o.ServiceName)
	o.Caller = strings.TrimSpace(o.Caller)
	if o.Caller == "" {
		o.Caller = UnknownCaller
	}
	o.Method = strings.ToUpper(strings.TrimSpace(o.Method))
	o.PathTemplate = strings.TrimSpace(o.PathTemplate)
	o.RequestFields = o.RequestFields.Clone()
	o.RequestHeaders = o.RequestHeaders.Clone()
	o.QueryParams = o.QueryParams.Clone()
	if o.Timestamp.IsZero() {
		o.Timestamp = time.Now().UTC()
	}

	if err := utils.ValidateStruct(o); err != nil {
		return Observation{}, fmt.Errorf("invalid observation: %w", err)
	}
	return o, nil
}

// Key returns the grouping key of the observation
func (o Observation) Key() Key {
	return Key{
		ServiceName:  o.ServiceName,
		Caller:       o.Caller,
		Method:       o.Method,
		PathTemplate: o.PathTemplate,
	}
}
