// Package scheduler turns wall-clock schedules into task-engine submissions.
//
// It only triggers: every firing enqueues an engine.Task, so retry, timeout and overlap
// handling stay in one place. The farm engine registers two schedules here, the generator
// scan interval and the day tick that drives escalation and retention.
package scheduler
