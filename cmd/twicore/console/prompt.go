package console

import (
	"errors"
	"io"
	"strings"

	"github.com/chzyer/readline"
)

// ErrQuit is returned by Shell.Next when the user ends the session.
var ErrQuit = errors.New("quit")

// Shell reads commands with line editing and history.
type Shell struct {
	rl *readline.Instance
}

func NewShell(prompt string) (*Shell, error) {
	rl, err := readline.NewEx(&readline.Config{
		Prompt:          prompt,
		InterruptPrompt: "^C",
		EOFPrompt:       "exit",
	})
	if err != nil {
		return nil, err
	}
	return &Shell{rl: rl}, nil
}

// Next returns the fields of the next non-empty line.
func (s *Shell) Next() ([]string, error) {
	for {
		line, err := s.rl.Readline()
		if errors.Is(err, readline.ErrInterrupt) || errors.Is(err, io.EOF) {
			return nil, ErrQuit
		}
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(line)
		if len(fields) == 0 {
			continue
		}
		if fields[0] == "quit" || fields[0] == "exit" {
			return nil, ErrQuit
		}
		return fields, nil
	}
}

func (s *Shell) Close() error {
	return s.rl.Close()
}
