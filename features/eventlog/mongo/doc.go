// Package mongo persists relay turn events in MongoDB.
//
// Use clients/mongo to build the low-level client and pass it to NewLog to
// obtain a stream.Sink that appends every event of every turn, and a reader
// replaying them per user.
package mongo
