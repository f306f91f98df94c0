package elflink

import (
	"errors"
	"github.com/ZenLiuCN/elflink/elfutil"
)

var (
	// ErrMalformed occurs when a module image is truncated or references bytes outside itself.
	ErrMalformed = elfutil.ErrMalformed
	// ErrBadHeader occurs when an image is built for another class, encoding, machine or file type.
	ErrBadHeader = elfutil.ErrBadHeader
	// ErrNotFound occurs when a module is neither registered nor present in the file system.
	ErrNotFound = errors.New("module not found")
	// ErrDuplicate occurs when a module of the same name is already registered.
	ErrDuplicate = errors.New("module already loaded")
	// ErrUnresolved occurs when a strong reference has no definition in any registered module.
	ErrUnresolved = errors.New("unresolved symbol")
	// ErrNotLibrary occurs when a module with a main function is loaded as a library.
	ErrNotLibrary = errors.New("module is a program")
	// ErrNotProgram occurs when a module without a main function is spawned.
	ErrNotProgram = errors.New("module has no main function")
	// ErrHasDependants occurs when unloading a module that other modules still link against.
	ErrHasDependants = errors.New("module is required by other modules")
	// ErrInitFailed occurs when a library init function returns non-zero.
	ErrInitFailed = errors.New("module init failed")
	// ErrUnsupportedReloc occurs for relocation types the machine backend does not apply.
	ErrUnsupportedReloc = errors.New("unsupported relocation")
	// ErrRelocOverflow occurs when a relocated value does not fit its field.
	ErrRelocOverflow = errors.New("relocation overflow")
	// ErrDependencyCycle occurs when DT_NEEDED entries or a manifest refer back to a module being loaded.
	ErrDependencyCycle = errors.New("dependency cycle")
	// ErrRootModule occurs when unloading the root module outside Term.
	ErrRootModule = errors.New("root module cannot be unloaded")
	// ErrModuleBusy occurs when unloading a module whose code is executing.
	ErrModuleBusy = errors.New("module is executing")
	// ErrModulesRemain occurs when Term cannot unload every module.
	ErrModulesRemain = errors.New("modules remain loaded")
	// ErrUninitialized occurs when using an Env before Init or after Term.
	ErrUninitialized = errors.New("environment not initialized")
	// ErrAlreadyInitialized occurs when initializing an Env twice.
	ErrAlreadyInitialized = errors.New("environment already initialized")
	// ErrNoNative occurs when the executor has no binding for a called address.
	ErrNoNative = errors.New("no native binding")
)
