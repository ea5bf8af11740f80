// Package generation defines the Describer port that produces the one-line
// issue description stored on a task entry, together with a deterministic
// template implementation. An LLM-backed implementation lives in
// internal/platform/gemini.
package generation
