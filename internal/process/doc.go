// Package process drives a single gpg child process.
//
// An Engine collects literal arguments and data buffers, then Spawn builds
// the argument vector and one pipe per buffer, starts the child and hands the
// parent ends to a wait.Context:
//   - argv is "gpg --status-fd N" followed by the literal arguments in order
//   - buffers forced onto a descriptor get it; the status pipe and the other
//     buffers take the lowest free descriptors from 3 up
//   - stdin is /dev/null unless a buffer is bound to descriptor 0
//   - stderr is logged line by line through the "gpg" module logger
//
// Status lines are parsed by the status package and forwarded to the handler
// installed with SetStatusHandler. Data is moved by the pump package.
//
// Release closes everything the engine still holds and stops a running child
// with SIGTERM, escalating to SIGKILL after the kill grace period.
//
// Example:
//
//	wc, _ := wait.NewContext(logger)
//	eng, _ := process.New(process.WithPath("/usr/bin/gpg"))
//	defer eng.Release()
//
//	_ = eng.AddArg("--sign")
//	_ = eng.AddData(in, 0)
//	_ = eng.AddData(out, 1)
//	eng.SetStatusHandler(func(code status.Code, args string) error {
//	    log.Printf("%s %s", code, args)
//	    return nil
//	})
//	if err := eng.Spawn(wc); err != nil {
//	    return err
//	}
//	err := wc.Wait(ctx)
package process
