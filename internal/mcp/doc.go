// Package mcp implements a Model Context Protocol (MCP) server.
//
// The server exposes the assistant's capabilities to agent hosts (Genkit
// CLI, editors, other MCP clients) over the standard protocol, usually on
// stdio via `medq mcp`.
//
// # Tools
//
//   - medical_query: one full orchestrated turn — route the question, answer
//     from the corpus or Wikipedia, persist the exchange. Returns JSON with
//     the session id so the caller can continue the conversation.
//   - corpus_search: raw top-K similarity search over the indexed corpus,
//     no model calls. Returns the matching passages as JSON.
//   - wikipedia_search: the Wikipedia lookup on its own, returning the
//     aggregated article context as plain text.
//
// # Error handling
//
// Tool-level failures — invalid input, an unreachable model, a failed
// search — come back as results with IsError set, so the calling agent can
// read the message and react. Handler errors are reserved for states that
// indicate a bug on this side of the protocol.
package mcp
