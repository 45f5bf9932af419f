// Package types holds the leaf types and helpers that the rendezvous server and the peer client share:
// the socket interface, endpoint normalisation, and log levels.
//
// Wire formats live in child packages (msgpunch). This package must not import them, children import
// the parent only, so that any package in the module can depend on types without cycles.
package types
