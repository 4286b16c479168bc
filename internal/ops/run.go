package ops

import (
	"context"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/process"
	"github.com/smazurov/gpgrun/internal/status"
)

// Run runs gpg with args. in, if not nil, is bound to the child's stdin and
// out, if not nil, receives its stdout. Every status event is passed to
// handler.
func (c *Context) Run(ctx context.Context, args []string, in, out Data, handler status.Handler) (process.ExitStatus, error) {
	eng, err := c.begin("run", handler)
	if err != nil {
		return process.ExitStatus{}, err
	}

	for _, arg := range args {
		if err := eng.AddArg(arg); err != nil {
			c.abort(eng, err)
			return process.ExitStatus{}, err
		}
	}
	if in != nil {
		in.SetMode(data.ModeToChild)
		if err := eng.AddData(in, 0); err != nil {
			c.abort(eng, err)
			return process.ExitStatus{}, err
		}
	}
	if out != nil {
		out.SetMode(data.ModeFromChild)
		if err := eng.AddData(out, 1); err != nil {
			c.abort(eng, err)
			return process.ExitStatus{}, err
		}
	}

	if err := eng.Spawn(c.wc); err != nil {
		c.abort(eng, err)
		return process.ExitStatus{}, err
	}
	if err := c.Wait(ctx); err != nil {
		return process.ExitStatus{}, err
	}
	return c.ExitStatus(), nil
}
