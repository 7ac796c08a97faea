// Package board models the merge grid and reconstructs it from device frames.
//
// The grid is rows x cols cells whose rectangles are derived from a single
// reference cell and fixed offsets. A Board holds what is known about each
// cell; absent cells are empty. Every change to a cell bumps its revision so
// callers that memoise decisions about a cell can tell when it changed.
//
// The Scanner fills the board with as few device round trips as possible:
// one capture decides which cells are empty, then each occupied cell is
// tapped to reveal its hero panel, where the level and name are read.
package board
