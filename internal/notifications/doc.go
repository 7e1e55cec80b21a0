// Package notifications delivers cell and row lifecycle events to observers.
//
// Every transport implements Notifier: events are addressed to a room (the
// owning user id) and carry a JSON-serializable payload. The webhook notifier
// POSTs a JSON envelope, the redis notifier publishes on
// "<channel_prefix>:<room>", the log notifier writes events to slog and the
// noop notifier drops them. NewFromConfig picks one from config.toml.
package notifications
