// Package mcp defines the client-side wire vocabulary for the Model Context
// Protocol's 2024-11-05 revision: method name constants and the request,
// result, and notification shapes a session exchanges with a server.
//
// The package carries no transport logic. The session layer and the test
// counterparty both marshal these types but own their framing and
// correlation themselves.
//
// Two discovery spellings coexist on this transport generation:
// LegacyToolsListMethod ("ListToolsRequest") is what HTTP+SSE-era servers
// answer, ToolsListMethod ("tools/list") is the standard name. Both produce
// a ListToolsResult, so callers decode one shape either way.
package mcp
