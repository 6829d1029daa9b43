// Package signaling implements the WebSocket signaling surface of the
// server: the per-connection transport loop, the negotiation relay that
// routes offer/answer/candidate envelopes between room members, and the
// presence broadcaster that fans out membership changes.
//
// The server brokers session negotiation only; media never passes through it.
package signaling
