// Package spread computes point-in-time influence from a baseline plus the
// contributions of discrete events whose effect grows outward from a point at
// a fixed rate.
//
// An event contributes its full magnitude at a position once its disc has
// reached that position and nothing before; there is no distance falloff.
// A Field aggregates a baseline with the live events of a region, and Advance
// folds events that have covered the region into the baseline.
//
// Nothing in this package is synchronized. TotalInfluence only reads, so
// concurrent readers are fine as long as no Advance or Insert runs at the same
// time; internal/sim/world owns a Field on a single goroutine for that reason.
package spread
