// Package harness runs live-query conformance scenarios.
//
// A scenario seeds a schema's tables, subscribes to one query shape, feeds
// it a sequence of deltas and checks what the engine decided and what the
// result became. Each scenario runs against a fresh in-memory SQLite
// database with a fixed query id, so traces are reproducible and can be
// compared against golden files.
//
// # Scenario Format
//
// Scenarios are defined in YAML files with the following structure:
//
//	name: scenario_name
//	description: "What this scenario validates"
//	schema: ../../schema/testdata/blog.yaml   # relative to the scenario file
//	session_args: [userId]
//	seed:
//	  users:
//	    - {id: u1, name: Ada, role: admin, updatedAt: 1}
//	query:
//	  shape: {users: {name: true, "@where": {role: {$arg: role}}}}
//	  input: {role: admin}
//	  session: {userId: u1}
//	  expect_error: ""        # error code when the query must fail
//	steps:
//	  - delta:
//	      - table: users
//	        changed: [{id: u1, name: "Ada L.", updatedAt: 2}]
//	    expect:
//	      decision: NoReExecute
//	      patched: 1
//	assertions:
//	  - type: envelope
//	    expect: {users: [{id: u1, name: "Ada L."}]}
//	  - type: final_state
//	    table: users
//	    where: {id: u1}
//	    expect: {name: "Ada L."}
//
// # Assertion Types
//
//   - envelope: the final result equals expect (numbers compare by value)
//   - trace_contains: some step decided decision, optionally for reason
//   - trace_order: the steps' decisions, in order, equal decisions
//   - trace_count: exactly count steps decided decision
//   - final_state: one row of table matching where has the expect fields
//
// # Golden Files
//
// RunWithGolden compares the compiled SQL and the trace against
// testdata/golden/<name>.sql.golden and testdata/golden/<name>.golden.
// Regenerate them with:
//
//	go test ./internal/harness -update
package harness
