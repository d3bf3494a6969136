// Package audit relays client-side security events (logins, MFA transitions,
// session invalidations, role mutations) to pluggable sinks.
//
// # Components
//
//   - [Event] is the record: type, user, state transition, error kind, metadata.
//   - [Sink] consumes events: [ChannelSink], [JSONWriterSink], [SlogSink], [MultiSink].
//   - [Dispatcher] is a buffered async relay with drop-if-full or block-if-full delivery.
//
// This package does not decide which events to emit. That belongs to the flows in
// the root package.
package audit
