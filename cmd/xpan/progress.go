package main

import (
	"fmt"
	"sync/atomic"

	"github.com/dustin/go-humanize"
	"github.com/mattn/go-isatty"
)

// cliProgressSink is a non-blocking, terminal-aware progress sink: a
// single atomic counter workers add to, with each Add redrawing the
// status line directly. When stdout isn't a terminal it stays silent
// rather than spam a log file with carriage returns.
type cliProgressSink struct {
	total      atomic.Int64
	done       atomic.Int64
	interactive bool
	label       string
}

func newProgressSink(label string) *cliProgressSink {
	return &cliProgressSink{
		interactive: isatty.IsTerminal(uintptr(1)),
		label:       label,
	}
}

func (p *cliProgressSink) SetTotal(bytes int64) { p.total.Store(bytes) }

func (p *cliProgressSink) Add(bytes int64) {
	done := p.done.Add(bytes)
	if !p.interactive {
		return
	}
	total := p.total.Load()
	if total > 0 {
		fmt.Printf("\r%s: %s / %s", p.label, humanize.Bytes(uint64(done)), humanize.Bytes(uint64(total)))
	} else {
		fmt.Printf("\r%s: %s", p.label, humanize.Bytes(uint64(done)))
	}
}

func (p *cliProgressSink) finish() {
	if p.interactive {
		fmt.Println()
	}
}
