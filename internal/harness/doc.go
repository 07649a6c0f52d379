// Package harness runs repository scenarios against the real engine.
//
// A scenario compiles a CUE contract package, opens a fresh in-memory
// SQLite store with the scenario's schema, seeds rows, calls repository
// methods and checks their results. Every statement the engine sends to
// the store is recorded in the trace, so scenarios can assert on what was
// executed as well as on what came back.
//
// # Scenario Format
//
//	name: member_paging
//	description: "What this scenario checks"
//	contracts: ../../../../testdata/contracts   # relative to the scenario file
//	schema: schema.sql                          # optional, default <contracts>/schema.sql
//	seed:
//	  - table: member
//	    rows:
//	      - { username: member1, age: 10 }
//	steps:
//	  - call: MemberRepository.findByAge
//	    args: [10]
//	    page: { index: 0, size: 3, sort: ["username,desc"] }
//	    expect:
//	      count: 3
//	      total: 5
//	      items: [{ username: member5 }]
//	assertions:
//	  - type: statement_count
//	    op: MemberRepository.findByAge
//	    count: 2
//	  - type: final_state
//	    table: member
//	    where: { username: member1 }
//	    expect: { age: 10 }
//
// Step args are the value parameters in declaration order. A pageable
// parameter is filled from page, a shape parameter from shape.
package harness
