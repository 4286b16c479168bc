package process

import (
	"errors"

	"github.com/smazurov/gpgrun/internal/fdio"
	"github.com/smazurov/gpgrun/internal/status"
	"github.com/smazurov/gpgrun/internal/wait"
)

// statusChannel feeds the status descriptor into the line parser.
type statusChannel struct {
	file   *fdio.File
	parser *status.Parser
}

// Kind implements wait.Handler.
func (s *statusChannel) Kind() wait.Kind { return wait.KindStatus }

// HandleIO implements wait.Handler. The descriptor is closed once the parser
// has seen the end of the stream.
func (s *statusChannel) HandleIO() (bool, error) {
	err := s.parser.ReadFrom(s.file)
	if errors.Is(err, fdio.ErrWouldBlock) {
		return false, nil
	}
	if s.parser.EOF() {
		_ = s.file.Close()
		return true, err
	}
	return false, err
}
