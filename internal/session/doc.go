// Package session drives the connection lifecycle of one Android TV device.
//
// Each configured device gets its own Session, owned by a single goroutine
// that walks the state machine:
//
//	Disconnected → Connecting → Connected
//	                   ↓            ↓
//	                Pairing    Reconnecting → Error
//
// Connecting enters Pairing when the device does not trust the client
// certificate; a PIN supplied through FinishPairing moves it back toward
// Connected. A dropped transport enters Reconnecting, which retries with
// exponential backoff until the retry budget is spent and the session lands
// in Error. Error is never abandoned: it retries on a long fixed interval
// and immediately on WakeUp or a power-on command. Stop is terminal from any
// state and releases the transport, the pending queue and the cast mixer.
//
// Commands are serialized through a bounded FIFO queue; on overflow the
// oldest entry is dropped and completed with ErrQueueOverflow. Commands
// issued while Disconnected or Error are rejected immediately, with one
// exception: a power-on request first establishes the connection and then
// sends the single POWER toggle, because a disconnected device cannot
// receive keycodes and the protocol has no dedicated "turn on" signal.
package session
