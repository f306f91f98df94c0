package elflink

import (
	"io/fs"
)

var global *Env

// ExecInit creates the process-wide environment over fsys, configured from
// the ELFLINK_* environment variables.
func ExecInit(fsys fs.FS, exec Executor) error {
	return ExecInitWith(fsys, exec, ConfigFromEnv())
}

// ExecInitWith is ExecInit with an explicit configuration.
func ExecInitWith(fsys fs.FS, exec Executor, cfg Config) error {
	if global != nil {
		return ErrAlreadyInitialized
	}
	e := New(fsys, exec, cfg)
	if err := e.Init(); err != nil {
		return err
	}
	global = e
	return nil
}

// Default returns the process-wide environment, nil before ExecInit.
func Default() *Env { return global }

func LoadLibrary(name string) error {
	if global == nil {
		return ErrUninitialized
	}
	return global.LoadLibrary(name)
}

func UnloadLibrary(name string) error {
	if global == nil {
		return ErrUninitialized
	}
	return global.UnloadLibrary(name)
}

func Spawnv(name string, argv []string) (int, error) {
	if global == nil {
		return 0, ErrUninitialized
	}
	return global.Spawnv(name, argv)
}

func Spawnl(name string, args ...string) (int, error) {
	return Spawnv(name, args)
}

// ExecTerm terminates the process-wide environment. It stays in place when
// modules could not be unloaded.
func ExecTerm() error {
	if global == nil {
		return ErrUninitialized
	}
	err := global.Term()
	if !global.Initialized() {
		global = nil
	}
	return err
}
