// Package store persists per-client Gmail credentials.
//
// Each client ID maps to exactly one record. Disconnecting nulls the token
// fields but keeps the record, so other client data stored alongside the
// tokens survives a disconnect. Two backends are provided: MongoDB for
// production and an in-memory map for development and tests.
package store
