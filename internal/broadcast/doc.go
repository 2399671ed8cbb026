// Package broadcast implements the connection registry, heartbeat monitor, room index and
// broker bridge that together fan activity events out to WebSocket clients.
//
// Every connection owns a writer goroutine with a bounded outbound buffer, so Send never
// blocks the caller: slow consumers lose frames instead of stalling a broadcast. The
// registry and the room index are each guarded by one mutex and always locked in that
// order (index, then registry). Cross-process delivery goes through a domain.Broker; with
// the NoopBroker every broadcast stays inside the process.
package broadcast
