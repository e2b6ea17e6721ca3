// Package reconcile heals drift between reconciliation sources (generated
// project folders on disk, external authoritative listings) and the
// control-plane project records. Matching is fuzzy but conservative: a
// candidate is matched exactly, by substring containment, or by token
// overlap, and ties are reported instead of guessed. The engine is
// idempotent and never creates a duplicate record for an existing project.
package reconcile
