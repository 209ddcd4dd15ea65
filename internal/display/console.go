package display

import (
	"bufio"
	"fmt"
	"io"
	"strings"
)

// Console is the headless fallback surface: plain line-oriented stdin
// and stdout, no status bar, no styling. Used when the process has no
// usable terminal, e.g. under systemd on the appliance itself.
type Console struct {
	out     io.Writer
	inputCh chan string
	quitCh  chan struct{}
}

// NewConsole creates a console surface reading from r and writing to w.
// Pass os.Stdin and os.Stdout for normal use.
func NewConsole(r io.Reader, w io.Writer) *Console {
	c := &Console{
		out:     w,
		inputCh: make(chan string, 16),
		quitCh:  make(chan struct{}),
	}
	go c.readLoop(r)
	return c
}

func (c *Console) readLoop(r io.Reader) {
	defer close(c.quitCh)
	sc := bufio.NewScanner(r)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		c.inputCh <- line
	}
}

// InputChan returns completed input lines.
func (c *Console) InputChan() <-chan string { return c.inputCh }

// QuitChan is closed when stdin reaches EOF.
func (c *Console) QuitChan() <-chan struct{} { return c.quitCh }

func (c *Console) Println(a ...interface{}) {
	fmt.Fprintln(c.out, a...)
}

func (c *Console) Printf(format string, a ...interface{}) {
	fmt.Fprintf(c.out, format+"\n", a...)
}

func (c *Console) PrintSpeech(text string) { c.Println("  " + text) }
func (c *Console) PrintInfo(text string)   { c.Println("  " + text) }
func (c *Console) PrintHint(text string)   { c.Println("  " + text) }
func (c *Console) PrintUrgent(text string) { c.Println("! " + text) }
func (c *Console) PrintVoice(text string)  { c.Println("[voice] " + text) }

var _ Surface = (*Console)(nil)
var _ Surface = (*UI)(nil)

// Surface is the output interface shared by the terminal UI and the
// headless console.
type Surface interface {
	Println(a ...interface{})
	Printf(format string, a ...interface{})
	PrintSpeech(text string)
	PrintInfo(text string)
	PrintHint(text string)
	PrintUrgent(text string)
	PrintVoice(text string)
	InputChan() <-chan string
	QuitChan() <-chan struct{}
}
