// Package scheduler owns the in-memory timer registry: one robfig/cron entry
// per armed job plus the per-job execution locks.
//
// Timers only trigger. A fire enqueues a task into the task engine carrying
// the job's RunState, so a fire that finds the job still running is skipped
// rather than queued.
package scheduler
