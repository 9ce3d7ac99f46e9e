// Package geom provides the pure geometric primitives used by the
// counting pipeline: axis-aligned bounding boxes, centroids,
// intersection-over-union, and counting-line side/crossing tests.
//
// Everything in this package is stateless and deterministic: the same
// inputs always produce the same outputs, which is what makes crossing
// detection reproducible across replays.
//
// Dependency rule: geom depends on nothing else in this repository.
package geom
