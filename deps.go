package elflink

import (
	"bufio"
	"bytes"
	"errors"
	"fmt"
	"io"
	"path"
	"strings"
)

// Manifest is a parsed modules.dep file. A line "name: dep dep" lists the
// libraries name needs; a line without a colon lists libraries every program
// needs. '#' starts a comment.
type Manifest struct {
	Global []string
	Deps   map[string][]string
}

func ParseManifest(r io.Reader) (*Manifest, error) {
	m := &Manifest{Deps: make(map[string][]string)}
	sc := bufio.NewScanner(r)
	for line := 1; sc.Scan(); line++ {
		text := sc.Text()
		if i := strings.IndexByte(text, '#'); i >= 0 {
			text = text[:i]
		}
		text = strings.TrimSpace(text)
		if text == "" {
			continue
		}
		name, deps, ok := strings.Cut(text, ":")
		if !ok {
			for _, g := range strings.Fields(text) {
				m.Global = append(m.Global, path.Base(g))
			}
			continue
		}
		name = strings.TrimSpace(name)
		if name == "" || strings.ContainsAny(name, " \t") {
			return nil, fmt.Errorf("%w: manifest line %d: bad module name %q", ErrMalformed, line, name)
		}
		name = path.Base(name)
		for _, d := range strings.Fields(deps) {
			m.Deps[name] = append(m.Deps[name], path.Base(d))
		}
		if _, ok := m.Deps[name]; !ok {
			m.Deps[name] = nil
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("manifest: %w", err)
	}
	return m, nil
}

// Order returns the libraries to load before name: the global entries and
// the transitive dependencies of name, each after its own dependencies. name
// itself is not included.
func (m *Manifest) Order(name string) ([]string, error) {
	const (
		visiting = 1
		done     = 2
	)
	name = path.Base(name)
	state := make(map[string]int)
	var out []string
	var visit func(n string) error
	visit = func(n string) error {
		switch state[n] {
		case visiting:
			return fmt.Errorf("%w: %s", ErrDependencyCycle, n)
		case done:
			return nil
		}
		state[n] = visiting
		for _, d := range m.Deps[n] {
			if err := visit(d); err != nil {
				return fmt.Errorf("%s: %w", n, err)
			}
		}
		state[n] = done
		if n != name {
			out = append(out, n)
		}
		return nil
	}
	for _, g := range m.Global {
		if err := visit(g); err != nil {
			return nil, err
		}
	}
	if err := visit(name); err != nil {
		return nil, err
	}
	return out, nil
}

// LoadDependencies loads the libraries the manifest lists for name that are
// not loaded yet. A missing manifest is not an error; the first library that
// fails to load aborts the sequence.
func (e *Env) LoadDependencies(name string) error {
	if err := e.ready(); err != nil {
		return err
	}
	if e.cfg.ModulesDep == "" {
		return nil
	}
	data, _, err := e.readModule(e.cfg.ModulesDep)
	if errors.Is(err, ErrNotFound) {
		return nil
	}
	if err != nil {
		return err
	}
	mf, err := ParseManifest(bytes.NewReader(data))
	if err != nil {
		return err
	}
	order, err := mf.Order(name)
	if err != nil {
		return err
	}
	for _, dep := range order {
		if _, ok := e.reg.Find(dep); ok {
			continue
		}
		if _, err := e.loadLibrary(dep); err != nil {
			return fmt.Errorf("dependency %s of %s: %w", dep, name, err)
		}
	}
	return nil
}
