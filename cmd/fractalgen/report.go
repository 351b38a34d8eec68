package main

import (
	"io"

	"github.com/muesli/termenv"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/gogpu/fractal"
)

// reporter prints render progress to a terminal, coloured when the
// terminal supports it.
type reporter struct {
	out *termenv.Output
	p   *message.Printer
}

func newReporter(w io.Writer) *reporter {
	return &reporter{
		out: termenv.NewOutput(w),
		p:   message.NewPrinter(language.English),
	}
}

func (r *reporter) progress(target string, done, total int) {
	r.out.ClearLine()
	pct := 0
	if total > 0 {
		pct = done * 100 / total
	}
	r.p.Fprintf(r.out, "\r%s %d/%d tiles (%d%%)", target, done, total, pct)
}

func (r *reporter) complete(target string, pixels int, s fractal.Stats) {
	r.out.ClearLine()
	done := r.out.String("done").Foreground(termenv.ANSIGreen).Bold()
	r.p.Fprintf(r.out, "\r%s %s: %d pixels, %d dispatches, %d programs\n",
		done, target, pixels, s.Dispatches, s.Programs)
}

func (r *reporter) cancelled(target string) {
	r.out.ClearLine()
	msg := r.out.String("cancelled").Foreground(termenv.ANSIYellow)
	r.p.Fprintf(r.out, "\r%s %s\n", msg, target)
}

func (r *reporter) failure(err error) {
	msg := r.out.String("error").Foreground(termenv.ANSIRed).Bold()
	r.p.Fprintf(r.out, "%s %v\n", msg, err)
}
