// Package db embeds the credential store schema.
package db

import _ "embed"

// Schema contains the DDL for the api_keys table and its indexes.
//
//go:embed migrations/001_schema.sql
var Schema string
