// Package server is the HTTP surface of the bridge.
//
// It maps the five public routes (/connect, /oauth-callback, /status,
// /disconnect, /send) onto connection service operations, renders JSON or
// redirect responses, and hosts the health probes. Prometheus metrics are
// served from a separate listener.
package server
