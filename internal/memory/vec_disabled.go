//go:build !sqlite_vec || !cgo

package memory

// Without the sqlite_vec tag searches fall back to a Go cosine scan.
const vecSQLAvailable = false
