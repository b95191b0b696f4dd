// Package server hosts the Fiber HTTP service, request middleware chain, and
// site registry glue that wires Host/port resolution into the offline proxy.
// The publish endpoint and the /-/ diagnostics routes bypass Host mapping;
// they are attached by the routes subpackage after NewApp returns.
package server
