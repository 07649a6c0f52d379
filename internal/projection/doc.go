// Package projection maps materialized rows into the shape an operation
// returns.
//
// Targets:
//   - EntityTarget: *Entity records with deferred relation handles
//   - ScalarTarget: the single column of each row
//   - TupleTarget: every column of each row, in select-list order
//   - ShapeTarget: *View records of a closed or nested projection
//   - DTOTarget: values built by a registered Go constructor
//
// Capability checks (Check, CheckShape) run when an operation is registered
// so that a shape that can never be filled fails before the first call.
// Native statements cannot be introspected; their check runs against the
// labels the store reports on the first call.
//
// Relations that a statement did not fetch become deferred handles: Ref for
// a single-valued relation and Collection for a collection. A handle loads
// on first Get, once. Within one result set all records pointing at the
// same related record share one handle, so the store sees one round trip
// per distinct related record.
package projection
