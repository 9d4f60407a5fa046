// Package storage holds the key-value stores the entitlement engine persists
// through: a durable SQLite table that survives restarts and a volatile
// session store that lives only as long as the process.
package storage
