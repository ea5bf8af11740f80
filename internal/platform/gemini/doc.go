// Package gemini implements generation.Describer on top of Google's Gemini
// API.
//
// The Describer renders a short prompt from the task entry, sends it to the
// configured model and post-processes the answer into a single line that fits
// generation.MaxDescriptionLength. Transient API failures are retried with
// exponential backoff and jitter; safety blocks and unusable answers are not.
//
// Callers treat the describer as optional: the service falls back to
// generation.TemplateDescriber when Describe fails.
package gemini
