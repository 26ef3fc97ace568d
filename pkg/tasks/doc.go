/*
Package tasks provides a small bounded worker pool for the two
fire-and-forget concerns the spec names: best-effort credential
lastUsedAt updates and lazy tombstone cleanup (§5.3). Submissions never
block the caller's request/event path; failures are logged and
otherwise swallowed.

Adapted from the teacher's long-lived-struct-plus-stop-channel
concurrency shape (pkg/worker/worker.go in the source this project was
patterned on), trimmed down from a container lifecycle manager to a
generic closure runner.
*/
package tasks
