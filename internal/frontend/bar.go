package frontend

import (
	"fmt"
	"io"
	"strings"
	"sync"
)

// bar draws a single-line progress bar that is repainted in place.
type bar struct {
	out      io.Writer
	mu       *sync.Mutex
	title    string
	width    int
	value    int
	finished bool
}

func newBar(out io.Writer, mu *sync.Mutex, title string, width int) *bar {
	return &bar{out: out, mu: mu, title: title, width: width, value: -1}
}

// SetValue repaints the bar at v percent.
func (b *bar) SetValue(v int) {
	if v < 0 {
		v = 0
	}
	if v > 100 {
		v = 100
	}
	if v == b.value || b.finished {
		return
	}
	b.value = v
	b.paint(false)
}

// Finish paints the bar full and ends the line.
func (b *bar) Finish() {
	if b.finished {
		return
	}
	b.value = 100
	b.finished = true
	b.paint(true)
}

func (b *bar) paint(final bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	line := render(b.title, b.value, b.width)
	if final {
		fmt.Fprintf(b.out, "\r%s\n", line)
		return
	}
	fmt.Fprintf(b.out, "\r%s", line)
}

// render lays out title, bar and percentage in width columns. The title
// takes half the width and is shortened from the left when too long.
func render(title string, value, width int) string {
	titleLen := width / 2
	barLen := width - titleLen - 8
	if barLen < 1 {
		barLen = 1
	}
	filled := value * barLen / 100
	return fmt.Sprintf("%s [%s%s] %3d%%",
		fitTitle(title, titleLen),
		strings.Repeat("#", filled),
		strings.Repeat("-", barLen-filled),
		value)
}

func fitTitle(title string, n int) string {
	r := []rune(title)
	if len(r) > n {
		if n <= 3 {
			return string(r[len(r)-n:])
		}
		return "..." + string(r[len(r)-(n-3):])
	}
	return title + strings.Repeat(" ", n-len(r))
}
