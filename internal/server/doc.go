// Package server hosts the Fiber HTTP service for hotserve: the request-id
// middleware, the Dispatcher that routes the reserved /@hot-* paths and all
// other GET/HEAD requests to their handlers, and the shared upstream HTTP
// client used by the content proxy. GET /-/status and /-/metrics bypass the
// Dispatcher and are registered by the routes subpackage.
package server
