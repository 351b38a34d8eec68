package shader

import (
	"regexp"
	"slices"
	"strings"
)

// DefaultEntry is the fragment compiled when Params.Entry is empty.
const DefaultEntry = "main"

// Params selects and parameterizes the fragments of one shader.
type Params struct {
	// Entry is the root fragment. Empty means DefaultEntry.
	Entry string

	// Slots binds "#include $slot" directives to fragment names.
	Slots map[string]string

	// Defines are symbols visible to #ifdef and #ifndef.
	Defines []string

	// Values substitutes {{name}} placeholders with literal text.
	Values map[string]string
}

// Source is an assembled shader.
type Source struct {
	// Code is the complete WGSL module.
	Code string

	// Fragments lists the fragments in emission order.
	Fragments []string
}

var placeholder = regexp.MustCompile(`\{\{\s*([A-Za-z_][A-Za-z0-9_]*)\s*\}\}`)

// Compile assembles the entry fragment and everything it includes.
//
// Each fragment is emitted once, after the fragments it includes, at the
// point where it is first reached. Placeholders are replaced by Values.
// Any missing fragment, slot or value is reported as a *TemplateError.
func Compile(reg *Registry, p Params) (Source, error) {
	entry := p.Entry
	if entry == "" {
		entry = DefaultEntry
	}
	c := &compiler{
		reg:      reg,
		params:   p,
		defines:  make(map[string]bool, len(p.Defines)),
		emitted:  make(map[string]bool),
		visiting: make(map[string]bool),
	}
	for _, d := range p.Defines {
		c.defines[d] = true
	}
	if err := c.expand(entry, "", 0); err != nil {
		return Source{}, err
	}
	return Source{Code: c.out.String(), Fragments: c.order}, nil
}

type compiler struct {
	reg      *Registry
	params   Params
	defines  map[string]bool
	emitted  map[string]bool
	visiting map[string]bool
	order    []string
	out      strings.Builder
}

type branch struct {
	active     bool
	elsePassed bool
}

func (c *compiler) expand(name, from string, fromLine int) error {
	if c.emitted[name] {
		return nil
	}
	if c.visiting[name] {
		return &TemplateError{Op: OpCycle, Name: name, Fragment: from, Line: fromLine}
	}
	src, ok := c.reg.Lookup(name)
	if !ok {
		return &TemplateError{Op: OpMissingFragment, Name: name, Fragment: from, Line: fromLine}
	}
	c.visiting[name] = true
	defer delete(c.visiting, name)

	var body strings.Builder
	var stack []branch
	active := func() bool {
		return !slices.ContainsFunc(stack, func(b branch) bool { return !b.active })
	}
	fail := func(line int, msg string) error {
		return &TemplateError{Op: OpDirective, Name: msg, Fragment: name, Line: line}
	}

	for i, line := range strings.Split(src, "\n") {
		lineNo := i + 1
		trimmed := strings.TrimSpace(line)
		if !strings.HasPrefix(trimmed, "#") {
			if !active() {
				continue
			}
			text, err := c.substitute(line, name, lineNo)
			if err != nil {
				return err
			}
			body.WriteString(text)
			body.WriteByte('\n')
			continue
		}

		directive, arg, _ := strings.Cut(trimmed[1:], " ")
		arg = strings.TrimSpace(arg)
		if j := strings.Index(arg, "//"); j >= 0 {
			arg = strings.TrimSpace(arg[:j])
		}

		switch directive {
		case "ifdef", "ifndef":
			if arg == "" {
				return fail(lineNo, "#"+directive+" needs an argument")
			}
			stack = append(stack, branch{active: (directive == "ifdef") == c.defines[arg]})
		case "else":
			if len(stack) == 0 {
				return fail(lineNo, "#else without #ifdef")
			}
			top := &stack[len(stack)-1]
			if top.elsePassed {
				return fail(lineNo, "second #else for same #ifdef")
			}
			top.elsePassed = true
			top.active = !top.active
		case "endif":
			if len(stack) == 0 {
				return fail(lineNo, "mismatched #endif")
			}
			stack = stack[:len(stack)-1]
		case "define":
			if arg == "" {
				return fail(lineNo, "#define needs an argument")
			}
			if active() {
				c.defines[arg] = true
			}
		case "include":
			if arg == "" {
				return fail(lineNo, "#include needs an argument")
			}
			if !active() {
				continue
			}
			target := arg
			if slot, ok := strings.CutPrefix(arg, "$"); ok {
				target, ok = c.params.Slots[slot]
				if !ok || target == "" {
					return &TemplateError{Op: OpMissingSlot, Name: slot, Fragment: name, Line: lineNo}
				}
			}
			if err := c.expand(target, name, lineNo); err != nil {
				return err
			}
		default:
			return fail(lineNo, "unknown directive #"+directive)
		}
	}
	if len(stack) != 0 {
		return fail(strings.Count(src, "\n")+1, "unterminated #ifdef")
	}

	c.emitted[name] = true
	c.order = append(c.order, name)
	c.out.WriteString("// ---- " + name + " ----\n")
	c.out.WriteString(strings.TrimRight(body.String(), "\n"))
	c.out.WriteString("\n\n")
	return nil
}

func (c *compiler) substitute(line, fragment string, lineNo int) (string, error) {
	if !strings.Contains(line, "{{") {
		return line, nil
	}
	var missing string
	out := placeholder.ReplaceAllStringFunc(line, func(m string) string {
		key := placeholder.FindStringSubmatch(m)[1]
		v, ok := c.params.Values[key]
		if !ok && missing == "" {
			missing = key
		}
		return v
	})
	if missing != "" {
		return "", &TemplateError{Op: OpMissingValue, Name: missing, Fragment: fragment, Line: lineNo}
	}
	return out, nil
}
