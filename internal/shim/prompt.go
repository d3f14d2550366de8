package shim

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/mattn/go-isatty"

	"github.com/terrazul-ai/tz/internal/errs"
	snippetexec "github.com/terrazul-ai/tz/internal/snippet/exec"
)

// TTYPrompter implements snippetexec.UserPrompter by reading a line from
// an interactive terminal. When stdin isn't a TTY (CI, piped input) it
// falls back to the snippet's declared default rather than blocking
// forever on a read that will never produce input, and fails outright
// when no default is available.
type TTYPrompter struct {
	In  io.Reader
	Out io.Writer
}

// NewTTYPrompter builds a TTYPrompter over the process's stdin/stderr.
func NewTTYPrompter() *TTYPrompter {
	return &TTYPrompter{In: os.Stdin, Out: os.Stderr}
}

func (p *TTYPrompter) isInteractive() bool {
	f, ok := p.In.(*os.File)
	return ok && isatty.IsTerminal(f.Fd())
}

// PromptUser implements snippetexec.UserPrompter.
func (p *TTYPrompter) PromptUser(ctx context.Context, question string, opts snippetexec.UserPromptOptions) (string, error) {
	if !p.isInteractive() {
		if opts.Default != "" {
			return opts.Default, nil
		}
		return "", errs.New(errs.KindInvalidArgument, "askUser requires an interactive terminal or a default: "+question)
	}

	prompt := question
	if opts.Placeholder != "" {
		prompt += " (" + opts.Placeholder + ")"
	}
	if opts.Default != "" {
		prompt += " [" + opts.Default + "]"
	}
	_, _ = cyan.Fprintln(p.Out, "? "+prompt)

	reader := bufio.NewReader(p.In)
	done := make(chan struct{})
	var line string
	var readErr error
	go func() {
		line, readErr = reader.ReadString('\n')
		close(done)
	}()

	select {
	case <-ctx.Done():
		return "", errs.Wrap(errs.KindInvalidArgument, "askUser canceled", ctx.Err())
	case <-done:
	}

	if readErr != nil && readErr != io.EOF {
		return "", errs.Wrap(errs.KindToolOutputParse, "read answer for "+question, readErr)
	}
	answer := strings.TrimRight(line, "\r\n")
	if answer == "" {
		answer = opts.Default
	}
	return answer, nil
}
