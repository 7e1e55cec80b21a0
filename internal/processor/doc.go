// Package processor executes a single cell: it gathers the cell's input
// items, renders them into one prompt, calls the assistant's model with at
// most one tool-call follow-up and writes the answer back to the cell.
//
// Processor implements worker.Handler so model queues can hand claimed cell
// jobs straight to it.
package processor
