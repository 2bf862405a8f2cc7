// Package extract pulls shape information out of HTTP requests: field names,
// header names, query parameter names and route templates. Values are read
// only to discover structure and are never returned.
package extract

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/url"
	"sort"
	"strings"

	"github.com/google/uuid"

	"consumerdocs/domain/observation"
)

// DefaultMaxDepth is how deep nested objects are walked for field names
const DefaultMaxDepth = 3

// skipHeaders carry no consumer signal or are sensitive
var skipHeaders = map[string]struct{}{
	"host": {}, "content-type": {}, "content-length": {}, "transfer-encoding": {},
	"accept": {}, "accept-encoding": {}, "accept-language": {}, "accept-charset": {},
	"connection": {}, "keep-alive": {}, "upgrade-insecure-requests": {},
	"authorization": {}, "cookie": {}, "set-cookie": {},
	"cache-control": {}, "pragma": {}, "expires": {},
	"origin": {}, "referer": {}, "user-agent": {},
	"sec-fetch-site": {}, "sec-fetch-mode": {}, "sec-fetch-dest": {}, "sec-fetch-user": {},
	"sec-ch-ua": {}, "sec-ch-ua-mobile": {}, "sec-ch-ua-platform": {},
}

// callerHeaders are checked in order for an explicit caller identity
var callerHeaders = []string{"X-Service-Name", "X-Caller-Id", "X-Source-Service"}

// CallerResolver derives a caller identity from request headers
type CallerResolver func(http.Header) string

// FieldsFromBody returns the field names of a JSON object body in dot
// notation; arrays of objects contribute "name[].child". Bodies that are not
// JSON objects, or fail to parse, yield an empty set.
func FieldsFromBody(body []byte, contentType string, maxDepth int) observation.StringSet {
	fields := observation.NewStringSet()
	if len(body) == 0 || !strings.Contains(strings.ToLower(contentType), "application/json") {
		return fields
	}
	if maxDepth <= 0 {
		maxDepth = DefaultMaxDepth
	}

	dec := json.NewDecoder(bytes.NewReader(body))
	dec.UseNumber()
	var data interface{}
	if err := dec.Decode(&data); err != nil {
		return fields
	}
	obj, ok := data.(map[string]interface{})
	if !ok {
		return fields
	}

	collectFields(obj, maxDepth, 1, "", fields)
	return fields
}

func collectFields(obj map[string]interface{}, maxDepth, depth int, prefix string, into observation.StringSet) {
	for key, value := range obj {
		name := prefix + key
		into.Add(name)
		if depth >= maxDepth {
			continue
		}
		switch v := value.(type) {
		case map[string]interface{}:
			collectFields(v, maxDepth, depth+1, name+".", into)
		case []interface{}:
			for _, elem := range v {
				if child, ok := elem.(map[string]interface{}); ok {
					collectFields(child, maxDepth, depth+1, name+"[].", into)
				}
			}
		}
	}
}

// CustomHeaders returns the lower-cased names of headers outside the
// standard skip list
func CustomHeaders(h http.Header) observation.StringSet {
	names := observation.NewStringSet()
	for name := range h {
		lower := strings.ToLower(name)
		if _, skip := skipHeaders[lower]; skip {
			continue
		}
		names.Add(lower)
	}
	return names
}

// CustomHeaderNames is CustomHeaders for header maps that are not
// http.Header, such as API Gateway events
func CustomHeaderNames(headers map[string]string) observation.StringSet {
	h := make(http.Header, len(headers))
	for name, value := range headers {
		h[name] = []string{value}
	}
	return CustomHeaders(h)
}

// QueryParams returns the parameter names of a raw query string
func QueryParams(rawQuery string) observation.StringSet {
	params := observation.NewStringSet()
	for _, part := range strings.Split(rawQuery, "&") {
		key, _, _ := strings.Cut(part, "=")
		if key == "" {
			continue
		}
		if unescaped, err := url.QueryUnescape(key); err == nil {
			key = unescaped
		}
		params.Add(key)
	}
	return params
}

// NormalizePath replaces path segments that look like identifiers with
// placeholders: UUIDs become {uuid} and all-digit segments become {id}.
// It is the fallback when no router template is available.
func NormalizePath(path string) string {
	segments := strings.Split(path, "/")
	for i, seg := range segments {
		switch {
		case isUUID(seg):
			segments[i] = "{uuid}"
		case isNumeric(seg):
			segments[i] = "{id}"
		}
	}
	return strings.Join(segments, "/")
}

func isUUID(seg string) bool {
	return len(seg) == 36 && uuid.Validate(seg) == nil
}

func isNumeric(seg string) bool {
	if seg == "" {
		return false
	}
	for _, r := range seg {
		if r < '0' || r > '9' {
			return false
		}
	}
	return true
}

// RouteTemplate rebuilds a route template from a concrete path and the
// parameters matched on it, replacing each whole matching segment with
// {name}. Longer values are substituted first so a value that is a prefix of
// another cannot clobber it.
func RouteTemplate(path string, params map[string]string) string {
	if len(params) == 0 {
		return path
	}

	names := make([]string, 0, len(params))
	for name, value := range params {
		if value != "" {
			names = append(names, name)
		}
	}
	sort.Slice(names, func(i, j int) bool {
		if len(params[names[i]]) != len(params[names[j]]) {
			return len(params[names[i]]) > len(params[names[j]])
		}
		return names[i] < names[j]
	})

	segments := strings.Split(path, "/")
	for _, name := range names {
		value := params[name]
		for i, seg := range segments {
			if seg == value {
				segments[i] = "{" + name + "}"
			}
		}
	}
	return strings.Join(segments, "/")
}

// ResolveCaller is the default CallerResolver: the first non-blank of
// X-Service-Name, X-Caller-Id and X-Source-Service, then the product token
// of the User-Agent, then observation.UnknownCaller
func ResolveCaller(h http.Header) string {
	for _, name := range callerHeaders {
		if v := strings.TrimSpace(h.Get(name)); v != "" {
			return v
		}
	}
	if ua := h.Get("User-Agent"); ua != "" {
		product, _, _ := strings.Cut(ua, "/")
		if product = strings.TrimSpace(product); product != "" {
			return product
		}
	}
	return observation.UnknownCaller
}

// ResolveCallerFromMap is ResolveCaller for plain header maps with
// arbitrary key casing
func ResolveCallerFromMap(headers map[string]string) string {
	h := make(http.Header, len(headers))
	for name, value := range headers {
		h.Set(name, value)
	}
	return ResolveCaller(h)
}
