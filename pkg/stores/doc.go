// Package stores persists run reports. A multi-hour batch run records every
// tile outcome in a SQLite database so operators can inspect which tiles
// failed, and why, long after the process exited.
package stores
