// Package shader assembles WGSL compute shaders from named fragments.
//
// A Registry holds fragment sources by name. Compile starts at an entry
// fragment and resolves its directives:
//
//	#include util/color     include a fragment by name
//	#include $smoothing     include the fragment bound to a slot
//	#ifdef X / #ifndef X    conditional text, closed by #endif
//	#else                   invert the innermost condition
//	#define X               make X visible to later conditions
//
// Every fragment is emitted once, after the fragments it includes, so the
// output follows a topological order of the include graph. Placeholders of
// the form {{name}} are replaced by literal values, letting a program bake
// its iteration count or sample table in as constants.
//
// The bundled fragments compose a fractal kernel in a fixed order:
// constants, layout, utilities, the smoothing slot, the iteration slot and
// the main entry point.
package shader
