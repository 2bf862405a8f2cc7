package badger

import (
	"time"

	"github.com/fxamacker/cbor/v2"

	"consumerdocs/domain/observation"
)

// encMode uses Core Deterministic Encoding: the same record always encodes
// to the same bytes.
var encMode cbor.EncMode

var decMode cbor.DecMode

func init() {
	var err error

	encMode, err = cbor.CoreDetEncOptions().EncMode()
	if err != nil {
		panic("badger: CBOR encoder initialization failed: " + err.Error())
	}

	// Unknown fields are ignored so older binaries can read newer records
	decMode, err = cbor.DecOptions{}.DecMode()
	if err != nil {
		panic("badger: CBOR decoder initialization failed: " + err.Error())
	}
}

// recordDoc is the stored form of a record. Times are UnixNano so they
// survive the round trip exactly; absent sets are omitted.
type recordDoc struct {
	ServiceName    string   `cbor:"service_name"`
	Caller         string   `cbor:"caller"`
	Method         string   `cbor:"method"`
	PathTemplate   string   `cbor:"path_template"`
	CallCount      int64    `cbor:"call_count"`
	FirstSeen      int64    `cbor:"first_seen"`
	LastSeen       int64    `cbor:"last_seen"`
	RequestFields  []string `cbor:"request_fields,omitempty"`
	RequestHeaders []string `cbor:"request_headers,omitempty"`
	QueryParams    []string `cbor:"query_params,omitempty"`
	ResponseCodes  []string `cbor:"response_codes,omitempty"`
	ExpiresAt      int64    `cbor:"ttl"`
}

func encodeRecord(rec *observation.Record) ([]byte, error) {
	doc := recordDoc{
		ServiceName:    rec.ServiceName,
		Caller:         rec.Caller,
		Method:         rec.Method,
		PathTemplate:   rec.PathTemplate,
		CallCount:      rec.CallCount,
		FirstSeen:      rec.FirstSeen.UnixNano(),
		LastSeen:       rec.LastSeen.UnixNano(),
		RequestFields:  sortedOrNil(rec.RequestFields),
		RequestHeaders: sortedOrNil(rec.RequestHeaders),
		QueryParams:    sortedOrNil(rec.QueryParams),
		ResponseCodes:  sortedOrNil(rec.ResponseCodes),
		ExpiresAt:      rec.ExpiresAt.Unix(),
	}
	return encMode.Marshal(doc)
}

func decodeRecord(data []byte) (*observation.Record, error) {
	var doc recordDoc
	if err := decMode.Unmarshal(data, &doc); err != nil {
		return nil, err
	}
	return &observation.Record{
		ServiceName:    doc.ServiceName,
		Caller:         doc.Caller,
		Method:         doc.Method,
		PathTemplate:   doc.PathTemplate,
		CallCount:      doc.CallCount,
		FirstSeen:      time.Unix(0, doc.FirstSeen).UTC(),
		LastSeen:       time.Unix(0, doc.LastSeen).UTC(),
		RequestFields:  setOrNil(doc.RequestFields),
		RequestHeaders: setOrNil(doc.RequestHeaders),
		QueryParams:    setOrNil(doc.QueryParams),
		ResponseCodes:  setOrNil(doc.ResponseCodes),
		ExpiresAt:      time.Unix(doc.ExpiresAt, 0).UTC(),
	}, nil
}

func sortedOrNil(s observation.StringSet) []string {
	if s.Len() == 0 {
		return nil
	}
	return s.Sorted()
}

func setOrNil(items []string) observation.StringSet {
	if len(items) == 0 {
		return nil
	}
	return observation.NewStringSet(items...)
}
