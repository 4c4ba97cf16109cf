// Package agent implements the agent state machine.
//
// An Agent owns its instructions, a capability registry and a pause gate.
// Execute moves the agent through idle, running and then completed or
// failed; Pause and Resume toggle the paused state from another goroutine.
// Backend failures never escape as Go errors: they come back as a Result
// whose Failure carries the typed reason and whose Message content starts
// with "Error: ".
//
// Replies may invoke capabilities with lines of the form
//
//	use_tool: {"name": "google_search", "params": {"query": "go"}}
//
// Each such line is replaced by the capability outcome before the reply is
// returned. A capability that fails or panics yields an inline error line.
//
// Besides function capabilities and the simulated google_search, the
// package provides MCPCapability, which talks to a Model Context Protocol
// server, and OpenAPICapability, which calls an API described by an OpenAPI
// document. The conversation that precedes a message travels in the
// context, see WithHistory.
package agent
