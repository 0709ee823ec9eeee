// Package cli wires the cobra command tree. Commands stay thin: they read
// config, assemble the engine packages, and print results; all semantics
// live in the internal packages they call.
package cli
