package orchestrator

// Caps bounds the sizing policy.
type Caps struct {
	// MaxWorkers caps the worker pool regardless of fleet size.
	MaxWorkers int
	// TableGroups is the number of wide tables one worker writes per chunk.
	TableGroups int
}

// Sizing returns the worker count and connection pool bounds for a fleet.
// One logical worker per entity up to the cap; the pool maximum is workers
// times the table-group count, since a worker writing all groups mid-chunk
// must never deadlock on connection acquisition with a full worker set.
func Sizing(entityCount int, caps Caps) (workers int, poolMin, poolMax int32) {
	if entityCount <= 0 {
		return 0, 1, 2
	}

	maxWorkers := caps.MaxWorkers
	if maxWorkers <= 0 {
		maxWorkers = 16
	}

	switch {
	case entityCount <= 8:
		workers = entityCount
	case entityCount <= 12:
		// Larger fleets back off to 75% to avoid resource contention.
		workers = entityCount * 3 / 4
		if workers < 8 {
			workers = 8
		}
	default:
		workers = entityCount
	}
	if workers > maxWorkers {
		workers = maxWorkers
	}

	groups := caps.TableGroups
	if groups <= 0 {
		groups = 1
	}

	return workers, int32(workers), int32(workers * groups)
}
