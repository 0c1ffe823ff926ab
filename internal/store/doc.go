// Package store declares the run ledger contract. Implementations live in
// internal/storage; this package must not import database drivers.
package store
