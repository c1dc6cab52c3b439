// Package workers provides the bounded worker pool that executes step
// dispatches, the pool health monitor, and the task retention sweeper.
//
// Workers pull Dispatch items from a bounded work channel; the pool size is
// the global concurrency ceiling for step execution across all tasks.
package workers
