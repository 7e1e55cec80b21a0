// Package workflow holds the workflow data model and the repository contract
// the compiler, processor and status propagator read and write through.
//
// A workflow is a grid: steps are columns ordered by OrderColumn, and each
// step's document holds one item (cell) per row, also ordered by
// OrderColumn.
package workflow
