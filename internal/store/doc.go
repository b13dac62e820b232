// Package store declares persistence interfaces for job history. Drivers live
// elsewhere; this package must not import them.
package store
