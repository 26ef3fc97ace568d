/*
Package metrics exposes Prometheus collectors for the sync server:
connection and broadcast gauges/counters for the event channel, file
operation counters and latency histograms for both gateways, and query
latency for the listing endpoint. Handler returns the promhttp handler
mounted at /metrics; Timer is a small helper for observing durations.
*/
package metrics
