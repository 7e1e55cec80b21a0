// Package graph compiles a workflow's steps x rows grid into per-row job
// chains.
//
// Each row becomes one chain: a row-completion node whose single child is
// the cell for the last step, whose child is the cell for the step before
// it, down to step 0. Children complete before parents run, so the chain
// enforces per-row step order. Nodes live in a flat arena (Plan.Nodes) and
// link by index; building and materializing never recurse.
//
// Edges always run step i to step i-1. A step's InputSteps only select the
// content passed to its prompt; they add no ordering of their own, so an
// input that is not an earlier step may be read before it is written.
package graph
