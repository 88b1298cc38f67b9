// Package sink mirrors the derived monthly income table into a SQL database
// through gorm. SQLite is meant for local analysis, Postgres for shared use.
package sink
