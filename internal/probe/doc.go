// Package probe defines the records, outcomes, and aggregate snapshots shared by
// the URL health-check engine, together with the URL normalizer that turns raw
// submitted strings into probe targets.
package probe
