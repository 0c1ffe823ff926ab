// Package harvest holds the data model shared by the traversal, session and
// checkpointing packages: list items, detail records, the in-memory run
// progress, the browser Session contract and the typed failure kinds the
// orchestrator dispatches on.
package harvest
