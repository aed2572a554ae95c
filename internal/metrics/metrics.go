// Package metrics provides application-level counters using stdlib expvar.
// Counters are exported on the /debug/vars endpoint of the default HTTP
// mux.
package metrics

import "expvar"

// Operation counters.
var (
	RouteTotal           = expvar.NewInt("entitymesh_route_total")
	ReadTotal            = expvar.NewInt("entitymesh_read_total")
	UpdateTotal          = expvar.NewInt("entitymesh_update_total")
	DeleteTotal          = expvar.NewInt("entitymesh_delete_total")
	ExtractTotal         = expvar.NewInt("entitymesh_extract_total")
	VersionConflictRetry = expvar.NewInt("entitymesh_version_conflict_retries_total")
	SessionsEvicted      = expvar.NewInt("entitymesh_sessions_evicted_total")
)

// Inc increments the given counter by 1.
func Inc(counter *expvar.Int) { counter.Add(1) }
