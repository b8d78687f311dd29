// Package taskrunner hosts the shared abstractions for driving stackup
// orchestration runs. It exposes the `Executor` interface plus helpers
// (`Factory`, `Resolve`) so CLI packages can inject Dependencies once and
// obtain a runner, while unit tests can swap in fakes. This keeps the
// orchestration logic in `internal/runner` reusable without wiring
// duplication.
package taskrunner
