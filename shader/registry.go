package shader

import (
	"embed"
	"io/fs"
	"maps"
	"path"
	"slices"
	"strings"
	"sync"
)

//go:embed fragments
var bundled embed.FS

// Ext is the file extension of fragment files.
const Ext = ".wgsl"

// Registry maps fragment names to WGSL source text.
//
// Names are slash-separated paths without extension, e.g. "util/color".
// Registry is safe for concurrent use.
type Registry struct {
	mu    sync.RWMutex
	frags map[string]string
}

// NewRegistry creates a registry holding a copy of frags.
func NewRegistry(frags map[string]string) *Registry {
	r := &Registry{frags: make(map[string]string, len(frags))}
	maps.Copy(r.frags, frags)
	return r
}

var defaultRegistry = sync.OnceValues(func() (*Registry, error) {
	return LoadDir(bundled, "fragments")
})

// DefaultRegistry returns a fresh copy of the bundled fragment set.
func DefaultRegistry() *Registry {
	r, err := defaultRegistry()
	if err != nil {
		// The bundled fragments are compiled into the binary.
		panic(err)
	}
	return r.Clone()
}

// LoadDir builds a registry from every *.wgsl file below root in fsys.
// The fragment name is the file path relative to root without extension.
func LoadDir(fsys fs.FS, root string) (*Registry, error) {
	r := NewRegistry(nil)
	err := fs.WalkDir(fsys, root, func(p string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || path.Ext(p) != Ext {
			return nil
		}
		src, err := fs.ReadFile(fsys, p)
		if err != nil {
			return err
		}
		name := strings.TrimSuffix(p, Ext)
		if root != "." {
			name = strings.TrimPrefix(name, strings.TrimSuffix(root, "/")+"/")
		}
		r.frags[name] = string(src)
		return nil
	})
	if err != nil {
		return nil, &TemplateError{Op: OpLoad, Name: root, Err: err}
	}
	return r, nil
}

// Add stores or replaces the fragment called name.
func (r *Registry) Add(name, src string) {
	r.mu.Lock()
	r.frags[name] = src
	r.mu.Unlock()
}

// Remove deletes the fragment called name.
func (r *Registry) Remove(name string) {
	r.mu.Lock()
	delete(r.frags, name)
	r.mu.Unlock()
}

// Lookup returns the source of the fragment called name.
func (r *Registry) Lookup(name string) (string, bool) {
	r.mu.RLock()
	src, ok := r.frags[name]
	r.mu.RUnlock()
	return src, ok
}

// Names returns the sorted fragment names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return slices.Sorted(maps.Keys(r.frags))
}

// Len returns the number of fragments.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.frags)
}

// Clone returns an independent copy of the registry.
func (r *Registry) Clone() *Registry {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return NewRegistry(r.frags)
}
