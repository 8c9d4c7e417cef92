// Package stores provides the SQLite persistence layer: managed devices,
// their configuration backups and the background task queue. Schema
// changes are embedded migrations applied with golang-migrate.
package stores
