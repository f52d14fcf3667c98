package postgres

import _ "embed"

//go:embed db/schema.sql
var schemaSQL string

// ForceImport can be referenced by tests to ensure this package's init() runs.
var ForceImport = 0
