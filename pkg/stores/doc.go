// Package stores provides the SQLite-backed control-plane store.
//
// Three tables back the pipeline: project_records is the durable projection
// of project state, keyed by normalized name with a storage-level UNIQUE
// constraint so concurrent reconciliation passes cannot insert duplicates;
// runs records every pipeline invocation; events is the append-only audit
// log that replaces in-process audit state, capturing every reconciliation
// decision and service transition for later review.
//
// Schema lives in embedded golang-migrate migrations and is applied with
// Migrate after Init.
package stores
