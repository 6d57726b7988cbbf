// Package worker implements the cache manager: a Handler reacting to the
// install, activate and fetch events of a service-worker style lifecycle,
// and a Container that plays the host platform, driving the lifecycle and
// routing fetch events to the active worker.
package worker
