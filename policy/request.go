// policy/request.go
package policy

import (
	"strings"

	"github.com/aegis-authz/aegis/model"
)

// RequestContext is the framework-neutral view of the incoming request
// that strategies evaluate against. Middleware adapters build it from the
// concrete HTTP context.
type RequestContext struct {
	Method   string
	Path     string
	ClientIP string
	Params   map[string]string
	Query    map[string]string
	Headers  map[string]string
	Body     map[string]interface{}

	Identity *model.Identity
	Session  *model.Session
}

// ResolveField resolves a dotted field path against the request. A leading
// "req." segment selects request metadata (method, path, ip, params.*,
// query.*, headers.*); a leading "body." segment or a bare path resolves
// against the parsed body. The second return is false when the path does
// not resolve to a value.
func (r *RequestContext) ResolveField(path string) (interface{}, bool) {
	segments := strings.Split(path, ".")
	if len(segments) == 0 {
		return nil, false
	}

	switch segments[0] {
	case "req":
		return r.resolveRequestField(segments[1:])
	case "body":
		return resolvePath(r.Body, segments[1:])
	default:
		return resolvePath(r.Body, segments)
	}
}

func (r *RequestContext) resolveRequestField(segments []string) (interface{}, bool) {
	if len(segments) == 0 {
		return nil, false
	}
	switch segments[0] {
	case "method":
		return r.Method, true
	case "path":
		return r.Path, true
	case "ip":
		return r.ClientIP, true
	case "params":
		if len(segments) == 2 {
			v, ok := r.Params[segments[1]]
			return v, ok
		}
	case "query":
		if len(segments) == 2 {
			v, ok := r.Query[segments[1]]
			return v, ok
		}
	case "headers":
		if len(segments) == 2 {
			v, ok := r.Headers[segments[1]]
			return v, ok
		}
	}
	return nil, false
}

// resolvePath walks nested maps segment by segment.
func resolvePath(data map[string]interface{}, segments []string) (interface{}, bool) {
	if data == nil || len(segments) == 0 {
		return nil, false
	}

	var current interface{} = data
	for _, segment := range segments {
		m, ok := current.(map[string]interface{})
		if !ok {
			return nil, false
		}
		current, ok = m[segment]
		if !ok {
			return nil, false
		}
	}
	return current, true
}
