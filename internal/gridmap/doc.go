// Package gridmap owns the occupancy grid the particle filter localises
// against.
//
// Responsibilities: cell coding (free/occupied, unknown coerced to
// occupied), continuous<->cell index transforms, grid<->map frame
// transforms, dynamic overlay updates, and loading maps from map_server
// style YAML + image pairs.
//
// A *Grid is treated as immutable once handed to the filter. Updates build a
// new Grid (see Overlay) which the owner swaps in under its own lock.
package gridmap
