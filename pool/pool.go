// Package pool guards an elflink environment with a lock so it can be shared
// between goroutines.
package pool

import (
	"errors"
	"github.com/ZenLiuCN/elflink"
	"github.com/ZenLiuCN/fn"
	"io/fs"
	"slices"
	"sync"
)

type Pool struct {
	env *elflink.Env
	sync.RWMutex
}

var (
	ErrAlreadyLoad   = errors.New("module already loaded")
	ErrNotLoad       = errors.New("module not loaded")
	ErrMissingSymbol = errors.New("symbol not exported")
	ErrClosed        = errors.New("pool closed")
)

// NewPool create new pool over an initialized environment
func NewPool(fsys fs.FS, exec elflink.Executor, cfg elflink.Config) (p *Pool, err error) {
	p = &Pool{env: elflink.New(fsys, exec, cfg)}
	if err = p.env.Init(); err != nil {
		return nil, err
	}
	return
}

// Load a library and the libraries it needs
func (p *Pool) Load(name string) error {
	p.Lock()
	defer p.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	if _, ok := p.env.Registry().Find(name); ok {
		return ErrAlreadyLoad
	}
	return p.env.LoadLibrary(name)
}

// Unload a library that no other module links against
func (p *Pool) Unload(name string) error {
	p.Lock()
	defer p.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	if _, ok := p.env.Registry().Find(name); !ok {
		return ErrNotLoad
	}
	return p.env.UnloadLibrary(name)
}

// Reload unloads name together with every module linked against it, newest
// first, and loads them again in their original order.
func (p *Pool) Reload(name string) (err error) {
	p.Lock()
	defer p.Unlock()
	if err = p.ready(); err != nil {
		return
	}
	reg := p.env.Registry()
	m, ok := reg.Find(name)
	if !ok {
		return ErrNotLoad
	}
	affected := map[string]*elflink.Module{name: m}
	for queue := []*elflink.Module{m}; len(queue) > 0; queue = queue[1:] {
		for _, d := range reg.Dependants(queue[0]) {
			if _, ok := affected[d.Name]; !ok {
				affected[d.Name] = d
				queue = append(queue, d)
			}
		}
	}
	var order []string
	for x := range reg.All() {
		if _, ok := affected[x.Name]; ok {
			order = append(order, x.Name)
		}
	}
	for _, n := range order {
		if err = p.env.UnloadLibrary(n); err != nil {
			return
		}
	}
	for _, n := range slices.Backward(order) {
		if err = p.env.LoadLibrary(n); err != nil {
			return
		}
	}
	return
}

// Spawn runs a program to completion
func (p *Pool) Spawn(name string, args ...string) (int, error) {
	p.Lock()
	defer p.Unlock()
	if err := p.ready(); err != nil {
		return 0, err
	}
	return p.env.Spawnv(name, args)
}

// Require fetch the address of an exported symbol of a module
func (p *Pool) Require(name, symbol string) (uint64, error) {
	p.RLock()
	defer p.RUnlock()
	if err := p.ready(); err != nil {
		return 0, err
	}
	m, ok := p.env.Registry().Find(name)
	if !ok {
		return 0, ErrNotLoad
	}
	s, ok := m.Lookup(symbol)
	if !ok {
		return 0, ErrMissingSymbol
	}
	return m.Addr(s), nil
}

// Modules snapshot of the loaded modules by name. should not modify any data.
func (p *Pool) Modules() map[string]*elflink.Module {
	p.RLock()
	defer p.RUnlock()
	v := make(map[string]*elflink.Module)
	if p.env.Initialized() {
		for m := range p.env.Registry().All() {
			v[m.Name] = m
		}
	}
	return v
}

// Names of the loaded modules, sorted
func (p *Pool) Names() []string {
	k := fn.MapKeys(p.Modules())
	slices.Sort(k)
	return k
}

// Do runs f with exclusive access to the environment.
func (p *Pool) Do(f func(env *elflink.Env) error) error {
	p.Lock()
	defer p.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	return f(p.env)
}

// Close terminates the environment. A pool that could not unload every
// module stays usable.
func (p *Pool) Close() error {
	p.Lock()
	defer p.Unlock()
	if err := p.ready(); err != nil {
		return err
	}
	return p.env.Term()
}

func (p *Pool) ready() error {
	if !p.env.Initialized() {
		return ErrClosed
	}
	return nil
}
