// Package persist turns API CSV text into tables and writes them to the
// metadata and data folders.
package persist
