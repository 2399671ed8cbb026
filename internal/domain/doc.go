// Package domain defines the core fan-out types and interfaces.
//
// Concept-oriented files (activity.go, connection.go, broker.go, errors.go) hold the shared
// types and cross-cutting contracts. No implementation code lives here, which keeps the
// broadcast core and the adapters free of import cycles.
package domain
