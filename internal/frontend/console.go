// Package frontend renders deployment output on a terminal.
package frontend

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"
	"golang.org/x/term"

	"github.com/BadgerOps/deployer/internal/transport"
)

const defaultWidth = 80

// Console writes notices and lists to out, errors to errOut and reads
// answers from in. Progress bars are drawn only when out is a terminal.
type Console struct {
	in     *bufio.Reader
	inFd   int
	out    io.Writer
	errOut io.Writer

	notice  *color.Color
	failure *color.Color

	tty   bool
	width int

	mu sync.Mutex

	// readPassword reads a line without echo from a terminal descriptor.
	readPassword func(fd int) ([]byte, error)
}

// NewConsole creates a console frontend. Colors and bars are enabled when
// out is a terminal.
func NewConsole(in io.Reader, out, errOut io.Writer) *Console {
	c := &Console{
		in:           bufio.NewReader(in),
		inFd:         -1,
		out:          out,
		errOut:       errOut,
		notice:       color.New(color.FgCyan),
		failure:      color.New(color.FgRed),
		width:        defaultWidth,
		readPassword: term.ReadPassword,
	}
	if f, ok := in.(*os.File); ok && isTerminal(f) {
		c.inFd = int(f.Fd())
	}
	if f, ok := out.(*os.File); ok && isTerminal(f) {
		c.tty = true
		if w, _, err := term.GetSize(int(f.Fd())); err == nil && w > 0 {
			c.width = w
		}
	}
	if !c.tty {
		c.notice.DisableColor()
		c.failure.DisableColor()
	}
	return c
}

// NewStdConsole creates a console on the process standard streams.
func NewStdConsole() *Console {
	return NewConsole(os.Stdin, os.Stdout, os.Stderr)
}

func isTerminal(f *os.File) bool {
	return isatty.IsTerminal(f.Fd()) || isatty.IsCygwinTerminal(f.Fd())
}

// Notice prints an important message.
func (c *Console) Notice(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.notice.Fprintln(c.out, msg)
}

// Error prints msg to the error stream with an "Error: " prefix.
func (c *Console) Error(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.failure.Fprint(c.errOut, "Error: ")
	fmt.Fprintln(c.errOut, msg)
}

// Write prints msg as is.
func (c *Console) Write(msg string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	fmt.Fprintln(c.out, msg)
}

// Ask prints question and reads a yes/no answer. An empty answer means yes;
// anything not starting with "y" means no, as does end of input.
func (c *Console) Ask(question string) bool {
	c.mu.Lock()
	fmt.Fprint(c.out, question+" [Y/n] ")
	c.mu.Unlock()

	line, err := c.in.ReadString('\n')
	if err != nil && (!errors.Is(err, io.EOF) || line == "") {
		return false
	}
	return parseAnswer(line, true)
}

func parseAnswer(line string, def bool) bool {
	answer := strings.TrimSpace(line)
	if answer == "" {
		return def
	}
	return strings.ToLower(answer[:1]) == "y"
}

// ReadPassword prompts for a secret. On a terminal the input is not echoed.
func (c *Console) ReadPassword(prompt string) (string, error) {
	c.mu.Lock()
	fmt.Fprint(c.out, prompt)
	c.mu.Unlock()

	if c.inFd >= 0 {
		b, err := c.readPassword(c.inFd)
		fmt.Fprintln(c.out)
		if err != nil {
			return "", fmt.Errorf("reading password: %w", err)
		}
		return string(b), nil
	}
	line, err := c.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return "", fmt.Errorf("reading password: %w", err)
	}
	return strings.TrimRight(line, "\r\n"), nil
}

// Progress returns a bar for label on a terminal and a line printer
// otherwise.
func (c *Console) Progress(label string) transport.ProgressSink {
	if c.tty {
		return newBar(c.out, &c.mu, label, c.width)
	}
	return &lineSink{out: c.out, mu: &c.mu, label: label}
}

// lineSink prints a single line once the operation finishes.
type lineSink struct {
	out   io.Writer
	mu    *sync.Mutex
	label string
	done  bool
}

func (s *lineSink) SetValue(int) {}

func (s *lineSink) Finish() {
	if s.done {
		return
	}
	s.done = true
	s.mu.Lock()
	defer s.mu.Unlock()
	fmt.Fprintf(s.out, "%s: done\n", s.label)
}
