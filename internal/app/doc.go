// Package app provides the application service layer.
//
// Service owns the fan-out core (registry, room index, heartbeat monitor, broker bridge,
// dispatcher), wires their hooks together and drives their lifecycle. The WebSocket
// handler and the HTTP API talk to it, never to the core directly.
package app
