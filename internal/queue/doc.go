// Package queue serializes work per key.
//
// Each active key owns one worker goroutine and a private FIFO inbox. Tasks
// submitted under the same key run strictly in submission order and never
// overlap; tasks under different keys run independently. A worker exits and
// drops its registry entry as soon as its inbox drains, so idle keys cost
// nothing.
//
// A task that fails (or panics) reports the failure to its own caller only;
// the next task on the same key still runs.
package queue
