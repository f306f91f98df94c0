package elflink

import (
	"debug/elf"
	"github.com/ZenLiuCN/elflink/memory"
	"github.com/xyproto/env/v2"
	"log"
	"runtime"
	"strings"
)

const (
	// DefaultExecDir is the directory module names are resolved against.
	DefaultExecDir = "/dyn/"
	// DefaultRootName names the root module and, when no image is supplied, its file.
	DefaultRootName = "_root_.c32"
	// DefaultModulesDep names the dependency manifest read before spawning.
	DefaultModulesDep = "modules.dep"
)

// Config of an Env.
type Config struct {
	ExecDir    string        // prefix of bare module names
	Path       []string      // further directories searched for bare names
	RootName   string        // name of the root module
	RootImage  []byte        // root image, read from RootName when nil
	RootBase   uint64        // load bias of root symbols
	ModulesDep string        // manifest file, empty disables preloading
	Class      elf.Class     // accepted ELF class
	Machine    elf.Machine   // accepted ELF machine
	Pages      bool          // back the address space with anonymous mappings
	MaxImage   int64         // largest module file accepted, 0 for no limit
	Space      *memory.Space // address space, created from Class and Pages when nil
	Debug      bool
	Logger     *log.Logger
}

// HostArch reports the ELF class and machine of the running binary.
func HostArch() (elf.Class, elf.Machine, bool) {
	switch runtime.GOARCH {
	case "amd64":
		return elf.ELFCLASS64, elf.EM_X86_64, true
	case "386":
		return elf.ELFCLASS32, elf.EM_386, true
	case "arm64":
		return elf.ELFCLASS64, elf.EM_AARCH64, true
	}
	return elf.ELFCLASS64, elf.EM_X86_64, false
}

// DefaultConfig returns the configuration for modules of the host architecture.
func DefaultConfig() Config {
	class, machine, _ := HostArch()
	return Config{
		ExecDir:    DefaultExecDir,
		RootName:   DefaultRootName,
		ModulesDep: DefaultModulesDep,
		Class:      class,
		Machine:    machine,
	}
}

// ConfigFromEnv overlays DefaultConfig with ELFLINK_* environment variables.
func ConfigFromEnv() Config {
	c := DefaultConfig()
	c.ExecDir = env.Str("ELFLINK_EXEC_DIR", c.ExecDir)
	if p := env.Str("ELFLINK_PATH"); p != "" {
		c.Path = strings.Split(p, ":")
	}
	c.RootName = env.Str("ELFLINK_ROOT", c.RootName)
	c.ModulesDep = env.Str("ELFLINK_MODULES_DEP", c.ModulesDep)
	c.Debug = env.Bool("ELFLINK_DEBUG")
	c.Pages = env.Bool("ELFLINK_PAGES")
	c.MaxImage = int64(env.Int("ELFLINK_MAX_IMAGE", 0))
	return c
}

func (c Config) logger() *log.Logger {
	if c.Logger != nil {
		return c.Logger
	}
	return log.Default()
}
