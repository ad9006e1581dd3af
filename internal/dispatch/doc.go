// Package dispatch routes inbound chat events to sandboxed service
// invocations.
//
// Four entry points feed the shared invoke path: commands, inline-button
// callbacks, plain messages (listener fan-out) and scheduled triggers. The
// invoke path resolves datasets and the service artifact, builds the
// execution payload, runs the sandbox, journals the outcome and applies the
// result through the transport.
//
// Routing decisions never leak information: a missing command, an unexposed
// one and an admin-only denial all produce the same generic reply. Sandbox
// failures are logged with full diagnostics but surface to the chat as one
// generic error string.
package dispatch
