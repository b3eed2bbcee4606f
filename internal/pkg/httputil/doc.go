// Package httputil holds the JSON response and request helpers shared by the
// import API handlers. Handlers write through these helpers so every endpoint
// returns the same error envelope.
package httputil
