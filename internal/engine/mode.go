package engine

// SelectMode decides which replication path a table takes. The parallel path
// requires multithreading to be enabled and the probed row count to reach
// threshold; below that the pool and queue coordination overhead outweighs
// any concurrency gain. Pure function of its inputs.
func SelectMode(rowCount, threshold int64, multithreading bool) Mode {
	if multithreading && rowCount >= threshold {
		return ModeParallel
	}
	return ModeSingle
}
