package revision

import (
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync/atomic"

	"github.com/cuemby/burrow/pkg/types"
)

var (
	// ErrRouteNotFound is returned when no asset or page serves a route
	ErrRouteNotFound = errors.New("route not found")
	// ErrInputNotFound is returned for an unknown input path
	ErrInputNotFound = errors.New("input not found")
)

// Revision is the immutable, indexed form of a revision package.
// It is safe for concurrent use and must not be modified after Load.
type Revision struct {
	pak *types.Pak

	pages       map[string]types.Page
	pageRoutes  map[string]string
	assets      map[string]types.Asset
	inputs      map[string]types.Input
	inputRoutes map[string]string
	templates   map[string]types.Template
}

// Decode parses and loads a JSON revision package
func Decode(data []byte) (*Revision, error) {
	var pak types.Pak
	if err := json.Unmarshal(data, &pak); err != nil {
		return nil, fmt.Errorf("failed to decode revision package: %w", err)
	}
	return Load(&pak)
}

// Load validates a package and builds its lookup indices
func Load(pak *types.Pak) (*Revision, error) {
	if pak == nil {
		return nil, errors.New("nil revision package")
	}
	if pak.ID == "" {
		return nil, errors.New("revision package has no id")
	}

	r := &Revision{
		pak:         pak,
		pages:       make(map[string]types.Page, len(pak.Pages)),
		pageRoutes:  make(map[string]string, len(pak.Pages)),
		assets:      make(map[string]types.Asset, len(pak.Assets)),
		inputs:      make(map[string]types.Input, len(pak.Inputs)),
		inputRoutes: make(map[string]string),
		templates:   make(map[string]types.Template, len(pak.Templates)),
	}

	for path, in := range pak.Inputs {
		if in.Path == "" {
			in.Path = path
		}
		if in.Path != path {
			return nil, fmt.Errorf("input %s declares path %s", path, in.Path)
		}
		if in.ContentHash == "" {
			return nil, fmt.Errorf("input %s has no content hash", path)
		}
		r.inputs[path] = in
	}

	for route, page := range pak.Pages {
		if err := ValidateRoute(route); err != nil {
			return nil, fmt.Errorf("page: %w", err)
		}
		page.Route = route
		r.pages[route] = page
		if page.InputPath != "" {
			r.pageRoutes[page.InputPath] = route
		}
	}

	for route, asset := range pak.Assets {
		if err := ValidateRoute(route); err != nil {
			return nil, fmt.Errorf("asset: %w", err)
		}
		if _, clash := r.pages[route]; clash {
			return nil, fmt.Errorf("route %s is both a page and an asset", route)
		}
		variants := 0
		if asset.Inline != nil {
			variants++
		}
		if asset.AcceptBasedRedirect != nil {
			variants++
		}
		if asset.Derivation != nil {
			variants++
			path := asset.Derivation.InputPath
			if _, ok := r.inputs[path]; !ok {
				return nil, fmt.Errorf("asset %s derives from unknown input %s", route, path)
			}
			// the shortest route wins so the mapping does not depend on map order
			if prev, ok := r.inputRoutes[path]; !ok || route < prev {
				r.inputRoutes[path] = route
			}
		}
		if variants != 1 {
			return nil, fmt.Errorf("asset %s must have exactly one variant", route)
		}
		r.assets[route] = asset
	}

	for name, tpl := range pak.Templates {
		r.templates[name] = tpl
	}
	return r, nil
}

// ValidateRoute checks that a route is absolute and has no trailing slash
func ValidateRoute(route string) error {
	if !strings.HasPrefix(route, "/") {
		return fmt.Errorf("route %q must start with /", route)
	}
	if route != "/" && strings.HasSuffix(route, "/") {
		return fmt.Errorf("route %q has a trailing slash", route)
	}
	return nil
}

// ID returns the revision id
func (r *Revision) ID() string { return r.pak.ID }

// Pak returns the package the revision was loaded from
func (r *Revision) Pak() *types.Pak { return r.pak }

// Config returns the revision configuration record
func (r *Revision) Config() types.RevisionConfig { return r.pak.Config }

// Asset looks up the asset served at route
func (r *Revision) Asset(route string) (types.Asset, error) {
	a, ok := r.assets[route]
	if !ok {
		return types.Asset{}, fmt.Errorf("%w: %s", ErrRouteNotFound, route)
	}
	return a, nil
}

// Page looks up the page served at route
func (r *Revision) Page(route string) (types.Page, error) {
	p, ok := r.pages[route]
	if !ok {
		return types.Page{}, fmt.Errorf("%w: %s", ErrRouteNotFound, route)
	}
	return p, nil
}

// PageRoute returns the route of the page rendered from inputPath
func (r *Revision) PageRoute(inputPath string) (string, bool) {
	route, ok := r.pageRoutes[inputPath]
	return route, ok
}

// AssetRoute returns a route that serves a derivation of inputPath
func (r *Revision) AssetRoute(inputPath string) (string, bool) {
	route, ok := r.inputRoutes[inputPath]
	return route, ok
}

// Input looks up an input by path
func (r *Revision) Input(path string) (types.Input, error) {
	in, ok := r.inputs[path]
	if !ok {
		return types.Input{}, fmt.Errorf("%w: %s", ErrInputNotFound, path)
	}
	return in, nil
}

// Template returns a named template
func (r *Revision) Template(name string) (types.Template, bool) {
	t, ok := r.templates[name]
	return t, ok
}

// Inputs returns every input sorted by path
func (r *Revision) Inputs() []types.Input {
	out := make([]types.Input, 0, len(r.inputs))
	for _, in := range r.inputs {
		out = append(out, in)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Path < out[j].Path })
	return out
}

// AssetRoutes returns every asset route, sorted
func (r *Revision) AssetRoutes() []string {
	out := make([]string, 0, len(r.assets))
	for route := range r.assets {
		out = append(out, route)
	}
	sort.Strings(out)
	return out
}

// Handle is a swappable reference to the current revision
type Handle struct {
	p atomic.Pointer[Revision]
}

// Load returns the current revision, nil if none
func (h *Handle) Load() *Revision { return h.p.Load() }

// Store installs rev as current
func (h *Handle) Store(rev *Revision) { h.p.Store(rev) }

// Swap installs rev and returns the previous revision
func (h *Handle) Swap(rev *Revision) *Revision { return h.p.Swap(rev) }
