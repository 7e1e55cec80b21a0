// Package queue persists background jobs and their parent/child graph in
// SQLite.
//
// A bulk submission inserts every node of a flow forest in one transaction.
// Nodes with children start in waiting-children and only become claimable
// once every child has completed. Claim is a single UPDATE ... RETURNING so
// concurrent lanes never receive the same job. A terminal failure cascades
// "dependency failed" to the job's ancestors, which would otherwise wait
// forever.
//
// The database is transient storage for in-flight jobs rather than a
// long-term archive. Schema changes bump schemaVersion in schema.go; users
// clear the database to adopt the new schema.
package queue
