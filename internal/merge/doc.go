// Package merge combines identical heroes on the board.
//
// Two cells merge when they hold the same hero kind at the same level
// below the maximum level. The engine prefers dragging an edge cell onto
// a centre cell, verifies every drag by re-capturing the board, and
// remembers pairs whose drag could not be verified until either cell
// changes.
package merge
