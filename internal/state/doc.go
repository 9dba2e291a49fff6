// Package state keeps a local SQLite trail of resource value changes.
//
// The bridge records a row whenever a refresh observes a new value or a
// command is confirmed by the controller. The status API reads the trail
// back newest first.
//
// The table is created by the migrations in the top-level migrations
// package; open the database and run them before constructing a
// Repository.
package state
