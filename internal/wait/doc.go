// Package wait multiplexes the descriptors of one or more running operations
// with poll(2).
//
// A Context owns a table of (descriptor, handler) registrations. Wait polls
// every live descriptor, runs the handler of each ready one exactly once per
// iteration in table order, and retires slots whose handler reports done.
// When no slot is live the context completes. A poll or handler failure
// closes every registered descriptor and fails the whole context.
//
// One goroutine drives a Context. Cancel may be called from any goroutine;
// it takes effect at the next handler boundary.
package wait
