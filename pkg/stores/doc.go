// Package stores provides the SQLite persistence layer for bpmanager.
// It stores flight records for the engine, billing profiles with their
// change log, and policy attribute objects. Schema changes are applied
// with embedded golang-migrate migrations.
package stores
