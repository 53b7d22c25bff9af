// Package session implements C1 (the Session Store) and C7 (the
// Conversation Runtime) from the conversation-core specification.
//
// # Architecture
//
//   - Store (store.go): C1. One JSON file per session under a data
//     directory, written via temp-file-then-rename-then-fsync so a reader
//     never observes a partial write. Corrupt files are quarantined with a
//     .corrupt suffix rather than deleted.
//   - Runtime (runtime.go): C7. Orchestrates one turn end to end: append
//     the user message, check internal/loopdetect, compress through
//     internal/context/internal/compact when usage crosses threshold,
//     stream the provider, dispatch tool calls through internal/tool,
//     and record everything back to the Store.
//   - Summarizer (summarizer.go): the provider-backed implementation of
//     internal/compact.Summarizer that Runtime wires into its Manager.
//   - Title (title.go): an optional post-turn convenience — generates a
//     short session title from the first user message using the same
//     provider/retry path as the summarizer.
//
// Runtime does not depend on a UI, a CLI framework, or an HTTP server; it
// is driven by cmd/ollm (an interactive/headless CLI) and read by
// internal/server's read-only introspection endpoints, neither of which
// this package imports.
package session
