// Package status decodes the machine-readable status stream gpg writes to the
// descriptor passed with --status-fd.
//
// The stream is a sequence of newline-terminated lines. Only lines of the form
//
//	[GNUPG:] KEYWORD optional arguments
//
// where KEYWORD starts with an uppercase ASCII letter and is present in the
// keyword table are reported; everything else is skipped silently. The end of
// the stream is reported once as the EOF pseudo-code with empty arguments.
//
// A Parser never blocks: each ReadFrom performs a single read on a
// non-blocking descriptor, so it can be driven from a poll loop.
package status
