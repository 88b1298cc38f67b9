// Package report writes a summary of one cepalstat run as Prometheus gauges
// in text exposition format, for pickup by a node-exporter textfile collector.
package report
