// Package service implements the task entry lifecycle on top of a
// store.TaskEntryStore.
//
// TaskEntryService owns the record rules: timestamps, soft-delete visibility,
// validation before writes and lifecycle transitions. TaskQueryService serves
// filtered, recency-ordered pages that can be walked in both directions with
// opaque cursors.
package service
