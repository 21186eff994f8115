//go:build sqlite_vec && cgo

package memory

import (
	vec "github.com/asg017/sqlite-vec-go-bindings/cgo"
)

// vec.Auto registers the sqlite-vec extension with every connection
// mattn/go-sqlite3 opens, enabling vec_distance_cosine in SQL.
func init() {
	vec.Auto()
}

const vecSQLAvailable = true
