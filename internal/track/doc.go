// Package track owns frame-to-frame object identity for one
// (camera, conveyor) context.
//
// Responsibilities: detection-to-track association (via internal/assoc),
// track lifecycle (tentative → confirmed → lost), velocity smoothing,
// occlusion coasting, and bounded centroid history.
//
// A Tracker is single-writer: one logical stream of frames updates it at a
// time. Concurrency lives across contexts, never within one — the session
// registry serialises Update calls per context.
//
// Dependency rule: track may depend on geom and assoc, never on count,
// stats or session.
package track
