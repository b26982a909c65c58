// Package importer implements bulk import of CRM contacts and deals from
// spreadsheet-shaped sources.
//
// # Architecture
//
// An import is a single pass driven by Service.Import:
//
//  1. Preconditions: mapping, actor and pipeline are checked once, before any row is read
//  2. Reference loading: pipeline stages and active users are fetched once (concurrently)
//  3. Mapping: every RawRow is turned into a typed Candidate by MapRow, or counted as failed
//  4. Resolution: stage, owner and related-contact tokens are resolved against the indexes
//  5. Partition: one bulk lookup splits candidates into create and update sets
//  6. Stage creation: unknown stage names are created (real run) or reported (dry run)
//  7. Commit: create and update sets are chunked and handed to a commit strategy
//
// # Dry Run
//
// Dry run and real run share every step above. The only difference is the
// commit strategy: the simulator counts, the committer writes. A dry run
// against an unchanged store therefore reports the same Summary as the real
// run that follows it.
//
// # Failure Isolation
//
// Row problems become ImportErrors with the row number (the header is row 1).
// A chunk whose transaction fails becomes a single ImportError with row -1 and
// its rows count as failed; other chunks still commit.
//
// # Column Suggestions
//
// SuggestColumns scores source headers against the target fields using the
// embedded synonym table. Suggestions are advisory; callers build the final
// FieldMapping themselves.
package importer
