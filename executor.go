package elflink

import (
	"fmt"
	"github.com/ZenLiuCN/fn"
	"slices"
)

// CallKind tells an Executor why an address is entered.
type CallKind int

const (
	CallFunc CallKind = iota
	CallInit
	CallExit
	CallMain
	CallCtor
	CallDtor
)

func (k CallKind) String() string {
	switch k {
	case CallInit:
		return "init"
	case CallExit:
		return "exit"
	case CallMain:
		return "main"
	case CallCtor:
		return "ctor"
	case CallDtor:
		return "dtor"
	}
	return "func"
}

// Call describes one transfer of control into module code.
type Call struct {
	Env    *Env
	Module *Module // owner of Addr, nil when no registered module covers it
	Symbol string  // symbol at Addr, empty when unknown
	Kind   CallKind
	Addr   uint64
	Args   []uint64 // for main: argc and the address of argv
	Argv   []string // for main: the arguments as copied into the program arena
}

func (c *Call) String() string {
	name := c.Symbol
	if name == "" {
		name = fmt.Sprintf("%#x", c.Addr)
	}
	if c.Module != nil {
		name = c.Module.Name + ":" + name
	}
	return c.Kind.String() + " " + name
}

// Executor runs module code. The environment never executes image bytes
// itself: every init, exit, main, constructor and destructor goes through the
// Executor, which returns the int result of the call.
type Executor interface {
	Execute(c *Call) (int, error)
}

// ExecutorFunc adapts a function to Executor.
type ExecutorFunc func(c *Call) (int, error)

func (f ExecutorFunc) Execute(c *Call) (int, error) { return f(c) }

// Native is a Go implementation bound to a module symbol.
type Native func(c *Call) int

// Natives dispatches calls to Go functions by symbol name. A binding of
// "module:symbol" wins over a bare "symbol" binding.
type Natives struct {
	funcs    map[string]Native
	Fallback Executor // used when no binding matches, nil for ErrNoNative
}

func NewNatives() *Natives {
	return &Natives{funcs: make(map[string]Native)}
}

// Bind registers f for name, either "symbol" or "module:symbol".
func (n *Natives) Bind(name string, f Native) *Natives {
	n.funcs[name] = f
	return n
}

func (n *Natives) Execute(c *Call) (int, error) {
	if c.Symbol != "" {
		if c.Module != nil {
			if f, ok := n.funcs[c.Module.Name+":"+c.Symbol]; ok {
				return f(c), nil
			}
		}
		if f, ok := n.funcs[c.Symbol]; ok {
			return f(c), nil
		}
	}
	if n.Fallback != nil {
		return n.Fallback.Execute(c)
	}
	return 0, fmt.Errorf("%w: %s", ErrNoNative, c)
}

// Bound lists the bindings, sorted.
func (n *Natives) Bound() []string {
	out := fn.MapKeys(n.funcs)
	slices.Sort(out)
	return out
}
