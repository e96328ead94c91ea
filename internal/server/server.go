package server

import (
	"net/http"
)

// Middleware wraps an http.Handler and returns a new http.Handler with additional behavior.
type Middleware func(http.Handler) http.Handler

// Route is a method and path pattern served by a [Handler].
type Route struct {
	Method string
	Path   string
}

// Handler is an endpoint that declares the routes it serves.
type Handler interface {
	http.Handler
	Routes() []Route
}

// Router registers handlers behind a shared middleware stack.
type Router interface {
	Use(middleware ...Middleware)                     // Use adds middleware to the router's middleware stack
	Handle(method, path string, handler http.Handler) // Handle registers a handler for the specified method and path
	Handler(handler Handler)                          // Handler registers every route a Handler declares
	ServeHTTP(w http.ResponseWriter, r *http.Request)
}

type guarded struct {
	Handler
	wrapped http.Handler
}

func (g guarded) ServeHTTP(w http.ResponseWriter, r *http.Request) { g.wrapped.ServeHTTP(w, r) }

// Guard wraps h with middleware that applies only to its own routes.
func Guard(h Handler, middleware ...Middleware) Handler {
	wrapped := http.Handler(h)
	for i := len(middleware) - 1; i >= 0; i-- {
		wrapped = middleware[i](wrapped)
	}
	return guarded{Handler: h, wrapped: wrapped}
}
