// Package harness replays YAML scenarios through the real pipeline.
//
// Each scenario seeds a fresh in-memory store with a directory of devices,
// employees and bindings, then executes its steps in order: punches go
// through pipeline.Process, manual entries through the aggregator, and a
// restart step swaps in a new pipeline with an empty in-memory ledger so
// durable deduplication is exercised.
//
// # Scenario Format
//
//	name: punch_pairing
//	description: "Two unstated punches pair into arrival and departure"
//	timezone: UTC
//	directory:
//	  devices:
//	    - {serial: X1, organization_id: 1}
//	  employees:
//	    - {id: 42, organization_id: 1, name: Asha, active: true}
//	steps:
//	  - punch: {id: "1001", device: X1, code: "42", time: "2024-01-10 09:00:00"}
//	    expect: {outcome: applied, kind: arrival}
//	  - restart: true
//	  - manual: {employee_id: 42, organization_id: 1, date: "2024-01-10", status: Absent}
//	days:
//	  - {employee_id: 42, date: "2024-01-10", arrival_time: "09:00:00"}
//	totals: {applied: 1}
//
// Every step adds one event to the trace. Golden files under
// testdata/golden hold the expected trace as indented canonical JSON.
package harness
