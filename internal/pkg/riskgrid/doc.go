// Package riskgrid turns a snapshot of geo-tagged risk observations into a
// dense N×N grid for heat-map rendering.
//
// The pipeline is ComputeBounds → NewGrid → Aggregate → Interpolate →
// ClassifyGrid; Build runs all of it. Every function is synchronous and
// works on a grid it owns exclusively, so a superseded build can simply be
// abandoned through its context.
package riskgrid
