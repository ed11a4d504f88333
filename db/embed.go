// Package db provides the embedded database schema and seed catalog.
package db

import _ "embed"

// Schema contains the DDL statements for the catalog, ledger, reservation
// and order tables. Every statement is idempotent.
//
//go:embed migrations/001_schema.sql
var Schema string

// SeedProducts is the default bakery catalog used by cmd/seed-db.
//
//go:embed seed/products.json
var SeedProducts []byte
