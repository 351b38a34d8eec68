package shader

import (
	"errors"
	"slices"
	"strings"
	"testing"
	"testing/fstest"
)

func defaultParams() Params {
	return Params{
		Slots: map[string]string{
			"smoothing": "smoothing/linear_intersection",
			"iteration": "iteration/mandelbrot",
		},
		Values: map[string]string{
			"iterations":            "200",
			"escape_radius_squared": "16.0",
			"sample_count":          "1",
			"sample_offsets":        "vec2<f32>(0.0, 0.0)",
		},
	}
}

func TestCompileDefaultOrder(t *testing.T) {
	src, err := Compile(DefaultRegistry(), defaultParams())
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	want := []string{
		"constants",
		"layout",
		"util/complex",
		"util/color",
		"smoothing/linear_intersection",
		"iteration/escape",
		"iteration/mandelbrot",
		"main",
	}
	if !slices.Equal(src.Fragments, want) {
		t.Errorf("Fragments = %v, want %v", src.Fragments, want)
	}
	for _, s := range []string{
		"const ITERATIONS: u32 = 200u;",
		"const RADIUS_SQUARED: f32 = 16.0;",
		"fn main(",
	} {
		if !strings.Contains(src.Code, s) {
			t.Errorf("Code missing %q", s)
		}
	}
	if strings.Contains(src.Code, "{{") || strings.Contains(src.Code, "#include") {
		t.Error("Code still contains template syntax")
	}
	if strings.Contains(src.Code, "sample_offsets") {
		t.Error("single-sample program should not include the offset table")
	}
	if n := strings.Count(src.Code, "fn complex_sqr("); n != 1 {
		t.Errorf("complex_sqr emitted %d times, want 1", n)
	}
}

func TestCompileMultisampleDefine(t *testing.T) {
	p := defaultParams()
	p.Defines = []string{"MULTISAMPLE"}
	p.Values["sample_count"] = "4"
	p.Values["sample_offsets"] = "vec2<f32>(-0.25, -0.25), vec2<f32>(0.25, -0.25), vec2<f32>(-0.25, 0.25), vec2<f32>(0.25, 0.25)"

	src, err := Compile(DefaultRegistry(), p)
	if err != nil {
		t.Fatalf("Compile: %v", err)
	}
	if !slices.Contains(src.Fragments, "util/samples") {
		t.Errorf("Fragments = %v, want util/samples included", src.Fragments)
	}
	if !strings.Contains(src.Code, "sample_offset(view.sample_index)") {
		t.Error("multisample branch not selected")
	}
	if strings.Contains(src.Code, "let offset = vec2<f32>(0.0, 0.0);") {
		t.Error("#else branch emitted alongside #ifdef branch")
	}
}

func TestCompileMissingSmoothingFragment(t *testing.T) {
	reg := DefaultRegistry()
	reg.Remove("smoothing/linear_intersection")

	_, err := Compile(reg, defaultParams())
	var te *TemplateError
	if !errors.As(err, &te) {
		t.Fatalf("Compile error = %v, want *TemplateError", err)
	}
	if te.Op != OpMissingFragment || te.Name != "smoothing/linear_intersection" {
		t.Errorf("TemplateError = %+v", te)
	}
	if te.Fragment != "main" {
		t.Errorf("Fragment = %q, want main", te.Fragment)
	}
}

func TestCompileErrors(t *testing.T) {
	tests := []struct {
		name   string
		frags  map[string]string
		params Params
		op     TemplateOp
		key    string
	}{
		{
			name:  "missing entry",
			frags: map[string]string{},
			op:    OpMissingFragment,
			key:   "main",
		},
		{
			name:  "missing value",
			frags: map[string]string{"main": "a\nconst X = {{x}};"},
			op:    OpMissingValue,
			key:   "x",
		},
		{
			name:  "missing slot",
			frags: map[string]string{"main": "#include $body"},
			op:    OpMissingSlot,
			key:   "body",
		},
		{
			name: "cycle",
			frags: map[string]string{
				"main": "#include a",
				"a":    "#include b",
				"b":    "#include a",
			},
			op:  OpCycle,
			key: "a",
		},
		{
			name:  "unknown directive",
			frags: map[string]string{"main": "#pragma once"},
			op:    OpDirective,
		},
		{
			name:  "unterminated ifdef",
			frags: map[string]string{"main": "#ifdef X\nfoo"},
			op:    OpDirective,
		},
		{
			name:  "stray endif",
			frags: map[string]string{"main": "#endif"},
			op:    OpDirective,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Compile(NewRegistry(tt.frags), tt.params)
			var te *TemplateError
			if !errors.As(err, &te) {
				t.Fatalf("Compile error = %v, want *TemplateError", err)
			}
			if te.Op != tt.op {
				t.Errorf("Op = %q, want %q", te.Op, tt.op)
			}
			if tt.key != "" && te.Name != tt.key {
				t.Errorf("Name = %q, want %q", te.Name, tt.key)
			}
		})
	}
}

func TestCompileIncludeOnce(t *testing.T) {
	reg := NewRegistry(map[string]string{
		"main": "#include b\n#include c\nmain",
		"b":    "#include d\nb",
		"c":    "#include d\nc",
		"d":    "d",
	})
	src, err := Compile(reg, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"d", "b", "c", "main"}; !slices.Equal(src.Fragments, want) {
		t.Errorf("Fragments = %v, want %v", src.Fragments, want)
	}
}

func TestCompileDefineAndElse(t *testing.T) {
	reg := NewRegistry(map[string]string{
		"main": "#define FAST\n#ifndef FAST\nslow\n#else\nfast\n#endif\n#ifdef EXTRA // optional\nextra\n#endif",
	})
	src, err := Compile(reg, Params{})
	if err != nil {
		t.Fatal(err)
	}
	if !strings.Contains(src.Code, "fast") || strings.Contains(src.Code, "slow") || strings.Contains(src.Code, "extra") {
		t.Errorf("Code = %q", src.Code)
	}
}

func TestLoadDir(t *testing.T) {
	fsys := fstest.MapFS{
		"frags/main.wgsl":       {Data: []byte("#include util/x\n")},
		"frags/util/x.wgsl":     {Data: []byte("fn x() {}\n")},
		"frags/util/readme.txt": {Data: []byte("ignored")},
	}
	reg, err := LoadDir(fsys, "frags")
	if err != nil {
		t.Fatal(err)
	}
	if want := []string{"main", "util/x"}; !slices.Equal(reg.Names(), want) {
		t.Errorf("Names() = %v, want %v", reg.Names(), want)
	}

	_, err = LoadDir(fsys, "missing")
	var te *TemplateError
	if !errors.As(err, &te) || te.Op != OpLoad {
		t.Errorf("LoadDir(missing) error = %v, want load TemplateError", err)
	}
}

func TestRegistryClone(t *testing.T) {
	a := NewRegistry(map[string]string{"x": "1"})
	b := a.Clone()
	b.Add("x", "2")
	if v, _ := a.Lookup("x"); v != "1" {
		t.Errorf("original changed to %q after editing clone", v)
	}
	if DefaultRegistry().Len() == 0 {
		t.Error("DefaultRegistry is empty")
	}
}
