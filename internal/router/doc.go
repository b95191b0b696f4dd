// Package router classifies intercepted requests and dispatches them to the
// strategy registered for their class. Requests that are not GET, or that use
// a scheme other than http/https, are never handed to a strategy: they go to
// the passthrough transport untouched. Transport exposes the same dispatch as
// an http.RoundTripper so plain Go clients get identical behavior.
package router
