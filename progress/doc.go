// Package progress keeps aggregated task counters for an accelerator pool.
// Every component that completes, fails or discards a task reports a Delta;
// observers read a Snapshot or register an OnChange callback.
package progress
