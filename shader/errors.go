package shader

import (
	"fmt"
	"strings"
)

// TemplateOp identifies the stage of template compilation that failed.
type TemplateOp string

// Template failure kinds.
const (
	OpMissingFragment TemplateOp = "missing-fragment"
	OpMissingSlot     TemplateOp = "missing-slot"
	OpMissingValue    TemplateOp = "missing-value"
	OpCycle           TemplateOp = "cycle"
	OpDirective       TemplateOp = "directive"
	OpLoad            TemplateOp = "load"
)

// TemplateError reports a missing or malformed fragment, slot, directive or
// placeholder. Fragment and Line locate the offending text when known.
type TemplateError struct {
	Op       TemplateOp
	Name     string
	Fragment string
	Line     int
	Err      error
}

func (e *TemplateError) Error() string {
	var b strings.Builder
	fmt.Fprintf(&b, "shader: %s %q", e.Op, e.Name)
	if e.Fragment != "" {
		fmt.Fprintf(&b, " (at %s:%d)", e.Fragment, e.Line)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *TemplateError) Unwrap() error {
	return e.Err
}
