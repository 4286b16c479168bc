package ops

import (
	"context"
	"strings"

	"github.com/smazurov/gpgrun/internal/data"
	"github.com/smazurov/gpgrun/internal/gpgerr"
	"github.com/smazurov/gpgrun/internal/status"
)

// SignResult is what the status stream reported about a signing operation.
type SignResult struct {
	Okay         bool
	NoPassphrase bool
	// Created holds the arguments of SIG_CREATED.
	Created string
}

// SignResult returns the result of the last signing operation.
func (c *Context) SignResult() SignResult {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sign
}

// SignStart starts creating a detached signature of in, written to out.
// in must hold data and out must be an empty sink.
func (c *Context) SignStart(in, out Data) error {
	if in == nil || in.Type() == data.TypeNone {
		return gpgerr.New(gpgerr.NoData, "nothing to sign")
	}
	if out == nil || out.Type() != data.TypeNone {
		return gpgerr.New(gpgerr.InvalidValue, "signature output must be an empty buffer")
	}

	eng, err := c.begin("sign", c.signStatus)
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.sign = SignResult{}
	args := []string{"--sign", "--detach"}
	if c.armor {
		args = append(args, "--armor")
	}
	if c.textmode {
		args = append(args, "--textmode")
	}
	for range c.verbosity {
		args = append(args, "--verbose")
	}
	c.mu.Unlock()

	for _, arg := range args {
		if err := eng.AddArg(arg); err != nil {
			c.abort(eng, err)
			return err
		}
	}

	in.SetMode(data.ModeToChild)
	out.SetMode(data.ModeFromChild)
	if err := eng.AddData(in, 0); err != nil {
		c.abort(eng, err)
		return err
	}
	if err := eng.AddData(out, 1); err != nil {
		c.abort(eng, err)
		return err
	}

	if err := eng.Spawn(c.wc); err != nil {
		c.abort(eng, err)
		return err
	}
	return nil
}

// Sign creates a detached signature of in and writes it to out.
func (c *Context) Sign(ctx context.Context, in, out Data) error {
	if err := c.SignStart(in, out); err != nil {
		return err
	}
	if err := c.Wait(ctx); err != nil {
		return err
	}

	res := c.SignResult()
	switch {
	case res.NoPassphrase:
		return gpgerr.New(gpgerr.NoPassphrase, "passphrase missing")
	case !res.Okay:
		msg := "no signature created"
		if diag := c.Diagnostics(); len(diag) > 0 {
			msg += ": " + diag[len(diag)-1]
		}
		return gpgerr.New(gpgerr.NoData, msg)
	}
	return nil
}

func (c *Context) signStatus(code status.Code, args string) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	switch code {
	case status.EOF, status.Progress:
	case status.NeedPassphrase, status.NeedPassphraseSym:
		c.logger.Warn("Passphrase needed, use gpg-agent")
	case status.MissingPassphrase:
		c.logger.Warn("Missing passphrase")
		c.sign.NoPassphrase = true
	case status.SigCreated:
		// Only one signature is reported per operation.
		c.sign.Okay = true
		c.sign.Created = strings.TrimSpace(args)
	default:
		c.logger.Debug("Status not handled", "keyword", code.String(), "args", args)
	}
	return nil
}
