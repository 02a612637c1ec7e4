// ABOUTME: Registers the cgo SQLite driver (mattn/go-sqlite3) as "sqlite3"
// ABOUTME: Only compiled when cgo is enabled; the pure Go driver is always available

//go:build cgo

package store

import (
	_ "github.com/mattn/go-sqlite3"
)
