package portal

import (
	"context"
	"maps"
)

// Request is the part of an inbound HTTP event the portal looks at. Query
// keeps the first value of each parameter.
type Request struct {
	Method string
	Path   string
	Query  map[string]string
}

// Response is what every handler produces.
type Response struct {
	StatusCode int
	Headers    map[string]string
	Body       string
}

// HandlerFunc serves one route. A returned error is an invocation failure:
// nothing below the HTTP adapter turns it into a response.
type HandlerFunc func(ctx context.Context, req Request) (Response, error)

// RouteKey is the literal "<METHOD>:<PATH>" lookup key.
type RouteKey string

func Key(method, path string) RouteKey {
	return RouteKey(method + ":" + path)
}

// Dispatcher is an immutable exact-match route table with a default handler.
type Dispatcher struct {
	routes   map[RouteKey]HandlerFunc
	fallback HandlerFunc
}

// NewDispatcher copies routes; later changes to the map are not observed.
func NewDispatcher(routes map[RouteKey]HandlerFunc, fallback HandlerFunc) *Dispatcher {
	if fallback == nil {
		fallback = NotFound
	}
	return &Dispatcher{routes: maps.Clone(routes), fallback: fallback}
}

// Dispatch returns the handler registered for exactly (method, path), or the
// default handler.
func (d *Dispatcher) Dispatch(method, path string) HandlerFunc {
	h, _ := d.lookup(method, path)
	return h
}

func (d *Dispatcher) lookup(method, path string) (HandlerFunc, bool) {
	if h, ok := d.routes[Key(method, path)]; ok {
		return h, true
	}
	return d.fallback, false
}

func (d *Dispatcher) Handle(ctx context.Context, req Request) (Response, error) {
	return d.Dispatch(req.Method, req.Path)(ctx, req)
}
