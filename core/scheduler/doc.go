// Package scheduler runs keyed periodic jobs. Each key owns at most one
// schedule; rescheduling a key replaces its timer. A fire that arrives while
// the previous run of the same key is still executing is skipped, so a job
// never overlaps itself, while different keys run concurrently. Job panics
// are recovered and reported. Close cancels every schedule and waits for
// in-flight runs with a bounded grace period.
package scheduler
