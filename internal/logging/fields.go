// Package logging provides structured logging utilities for the quorumd
// server.
package logging

// Standard field names for consistent logging across the application.
const (
	// FieldSet is the replica set name.
	FieldSet = "set"

	// FieldMember is a member's host:port address.
	FieldMember = "member"

	// FieldMemberID is a member's numeric id within the set.
	FieldMemberID = "member_id"

	// FieldState is a member state name.
	FieldState = "state"

	// FieldRequestID is a unique identifier for each HTTP request.
	FieldRequestID = "request_id"

	// FieldDuration is the duration of an operation in milliseconds.
	FieldDuration = "duration_ms"

	// FieldStatusCode is the HTTP status code of a response.
	FieldStatusCode = "status_code"

	// FieldMethod is the HTTP method of a request.
	FieldMethod = "method"

	// FieldPath is the URL path of an HTTP request.
	FieldPath = "path"

	// FieldRemoteAddr is the client's remote address.
	FieldRemoteAddr = "remote_addr"

	// FieldError is the error message or description.
	FieldError = "error"

	// FieldComponent identifies the component generating the log.
	FieldComponent = "component"
)
