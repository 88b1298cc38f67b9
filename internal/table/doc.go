// Package table holds tabular text in memory: a header plus string rows, as
// returned by the indicator API and as persisted on disk. It does not type
// cells; callers parse the columns they need.
package table
