// Package memory provides in-process implementations of the store contracts.
//
// Every mutating method runs under one mutex, so leases are atomic and no task
// is handed to two callers. Nothing survives the process; the stores back
// dry runs (database.driver=memory) and unit tests.
package memory
