// Package ir defines the data model shared by every stage of the relq query
// pipeline.
//
// The types here are plain: a compiled query is an ordered list
// of Fragments, arguments travel as a flat ArgMap, the execution engine
// answers with one ResultSet per statement, and live updates arrive as a
// Delta of Rows. Nothing in this package talks to a database.
//
// # Canonical JSON
//
// MarshalCanonical produces RFC 8785 style canonical JSON (UTF-16 key order,
// NFC-normalized strings, no HTML escaping). It is used for two things:
//
//   - Fingerprint: stable content hashes of query shapes, which prefix the
//     temporary tables of a compiled plan.
//   - Equal: value comparison of row fields when deciding whether a delta
//     touched a filtered field. Numbers compare by value, so 1 and 1.0 are
//     equal regardless of how a decoder represented them.
//
// # Errors
//
// Every failure the pipeline surfaces is an *Error carrying a Code. Use
// errors.Is with the sentinel values (ErrUnknownField, ErrMissingParam, ...)
// to branch on the kind of failure.
package ir
