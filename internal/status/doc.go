// Package status mirrors job lifecycle events onto cell processing status
// and pushes them to observers.
//
// Propagator consumes worker.Event values from the manager's event channel;
// nothing calls it synchronously from the job path. RowHandler runs the
// row-completion jobs that close each row chain.
package status
