// Package store provides the persistence gateway for reconciled entity
// records and the model definition registry. An in-memory gateway backs
// tests and dev mode; the gorm gateway persists merged fields as JSON
// with derived usage and cost as typed columns.
package store
