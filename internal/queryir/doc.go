// Package queryir provides the typed intermediate representation of a query
// shape: which tables to read, which fields and nested relations to return,
// and how each level is filtered, sorted and limited.
//
// ARCHITECTURE:
//
// The IR sits between the wire form sent by clients and the SQL compiler:
//
//	[shape JSON] → ParseShape → [Shape] → Resolve(graph) → [Resolved] → querysql
//	                                                               → Dependencies
//
// ParseShape checks the wire form only (operators, sort directions, limits).
// Resolve checks every name against a schema.Graph exactly once and hands
// downstream stages table and link ids, so an unknown name cannot surface
// after resolution.
//
// WIRE FORM:
//
//	{
//	  "users": {
//	    "name": true,
//	    "@where": {"$or": [{"role": "admin"}, {"age": {"$gte": 18}}]},
//	    "@sort": [{"field": "name", "direction": "desc"}],
//	    "@limit": 10,
//	    "posts": {"title": true, "@limit": 3}
//	  }
//	}
//
// Top-level keys name tables; nested keys name links. "true" selects a
// scalar field, an object selects a relation. A node that selects no scalar
// field returns all of them. The primary key is always returned.
//
// Operand values are literals, {"$arg": name, "default": v} for user input,
// or {"$session": name} for session context.
//
// SEALED INTERFACES:
//
// Predicate and Operand are sealed with marker methods, so compilers can
// switch exhaustively:
//
//	switch p := pred.(type) {
//	case *Compare:
//	case *And:
//	case *Or:
//	}
package queryir
