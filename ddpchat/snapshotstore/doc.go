// Package snapshotstore provides ddpchat.SnapshotStore implementations:
// in memory, a SQLite file and an S3 object.
package snapshotstore
