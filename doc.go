/*
Package elflink is a dynamic module loader for ELF shared objects, modelled on
the COM32 module system of a boot loader.

# Underwater

 1. Modules are ET_DYN images. Their PT_LOAD segments are copied into a simulated
    address space ([memory.Space]) and relocated there, so addresses are stable
    integers that never alias Go memory.
 2. Symbols resolve against every registered module, newest first. A global
    definition wins over a weak one, and weak references without a definition
    bind to the host's undefined_symbol.
 3. The registry records which module a relocation bound to. A module cannot be
    unloaded while another one links against it.
 4. Module code is never executed directly. Init, exit, main, constructors and
    destructors are handed to an [Executor]; [Natives] binds them to Go functions.

# Roles

A module defining main is a program and can only be spawned. A module defining
__module_init or __module_exit is a library. The root module is the host image:
it is registered shallowly from its .symtab and never copied or relocated.

# Usage

	env := elflink.New(os.DirFS("/"), natives, elflink.DefaultConfig())
	if err := env.Init(); err != nil {
		return err
	}
	defer env.Term()
	status, err := env.Spawnl("hello.c32", "hello.c32", "world")

# Notes

 1. An Env is not safe for concurrent use. Package pool wraps one with a lock.
 2. Memory a program allocates through [Env.Malloc] is released when it returns.
*/
package elflink
