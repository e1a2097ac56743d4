package main

import (
	"fmt"
	"io"
	"sync"

	"github.com/cuongbtq/script-studio/internal/job/domain"
)

// progressRenderer prints one line per distinct progress step
type progressRenderer struct {
	mu   sync.Mutex
	w    io.Writer
	last *domain.Progress
}

func newProgressRenderer(w io.Writer) *progressRenderer {
	return &progressRenderer{w: w}
}

func (r *progressRenderer) Render(u domain.Update) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if r.last != nil && *r.last == u.Progress {
		return
	}
	p := u.Progress
	r.last = &p
	fmt.Fprintln(r.w, formatProgress(p))
}

func formatProgress(p domain.Progress) string {
	return fmt.Sprintf("[%3d%%] %s", p.Percent, p.Label)
}
