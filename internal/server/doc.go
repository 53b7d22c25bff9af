// Package server provides a read-only HTTP introspection surface over
// internal/session's C1 Session Store.
//
// It deliberately exposes only two endpoints, GET /sessions and GET
// /sessions/{id}, backed directly by session.Store.List/Get. There is no
// mutation route: no session creation, no message send, no tool
// execution, no shell, OAuth, MCP admin, or TUI control. Driving a
// conversation is cmd/ollm's job, talking to an internal/session.Runtime
// in the same process or over whatever channel the caller wires up; this
// package exists so an operator (or a dashboard) can ask "what sessions
// exist" and "what's in this one" without a write path to misuse.
package server
