// Package server hosts the Fiber HTTP service, the request middleware chain and
// the origin registry that maps an incoming Host to the upstream site whose
// responses the worker caches. Diagnostics routes live in server/routes and are
// mounted under /-/ on the same app.
package server
