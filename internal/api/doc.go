// Package api exposes the task services over HTTP.
//
// Handlers decode and validate requests, call the task services and map their
// errors to status codes with client-safe messages. Internal error text only
// reaches the logs, after redaction, tagged with the request trace ID.
package api
