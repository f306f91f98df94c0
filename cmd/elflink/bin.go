package main

import (
	"fmt"
	. "github.com/ZenLiuCN/elflink"
	"github.com/ZenLiuCN/elflink/elfutil"
	"github.com/ZenLiuCN/fn"
	"github.com/davecgh/go-spew/spew"
	"github.com/urfave/cli/v2"
	"log"
	"os"
	"path/filepath"
)

func main() {
	app := cli.NewApp()
	app.Usage = "ELF module loader"
	app.Name = "elflink"
	app.Description = "inspect and dry-run link COM32 style ELF modules"
	app.Flags = []cli.Flag{
		&cli.BoolFlag{Name: "debug", Aliases: []string{"d"}},
	}
	app.Args = true
	app.Commands = []*cli.Command{
		{Name: "inspect",
			Action: inspect,
			Usage:  "display role, exports, imports and DT_NEEDED of modules",
			Flags: []cli.Flag{
				&cli.BoolFlag{Name: "dump", Usage: "dump the decoded records"},
			},
			Args: true,
		},
		{Name: "hash", Action: hash, Usage: "display the SysV and GNU hash of symbol names", Args: true},
		{Name: "deps",
			Action: deps,
			Usage:  "display the preload order a manifest gives a program",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "manifest", Aliases: []string{"m"}, Value: DefaultModulesDep, Usage: "modules.dep file"},
			},
			Args: true,
		},
		{Name: "link",
			Action: link,
			Usage:  "load modules against a root image without running them",
			Flags: []cli.Flag{
				&cli.StringFlag{Name: "root", Aliases: []string{"r"}, Required: true, Usage: "root image with a .symtab"},
				&cli.StringFlag{Name: "dir", Value: ".", Usage: "directory module names are resolved in"},
				&cli.StringFlag{Name: "spawn", Aliases: []string{"s"}, Usage: "program to spawn after loading the libraries"},
			},
			Args: true,
		},
	}
	if err := app.Run(os.Args); err != nil {
		log.Fatalf("failure %s", err)
	}
}

func inspect(ctx *cli.Context) (err error) {
	var infos Infos
	for _, s := range ctx.Args().Slice() {
		var data []byte
		if data, err = os.ReadFile(s); err != nil {
			return
		}
		var info *Info
		if info, err = Inspect(filepath.Base(s), data); err != nil {
			return fmt.Errorf("%s: %w", s, err)
		}
		if ctx.Bool("dump") {
			spew.Dump(fn.Panic1(elfutil.Parse(data)).Header, info)
		}
		infos = append(infos, info)
	}
	log.Printf("\n%s", infos.String())
	return
}

func hash(ctx *cli.Context) error {
	for _, s := range ctx.Args().Slice() {
		fmt.Printf("%-32s sysv=%08x gnu=%08x\n", s, elfutil.Hash(s), elfutil.GNUHash(s))
	}
	return nil
}

func deps(ctx *cli.Context) (err error) {
	f, err := os.Open(ctx.String("manifest"))
	if err != nil {
		return
	}
	defer fn.IgnoreClose(f)
	m, err := ParseManifest(f)
	if err != nil {
		return
	}
	for _, s := range ctx.Args().Slice() {
		var order []string
		if order, err = m.Order(s); err != nil {
			return
		}
		fmt.Printf("%s: %v\n", s, order)
	}
	return
}

func link(ctx *cli.Context) (err error) {
	d := ctx.Bool("debug")
	root, err := os.ReadFile(ctx.String("root"))
	if err != nil {
		return
	}
	info, err := Inspect(ctx.String("root"), root)
	if err != nil {
		return
	}
	cfg := DefaultConfig()
	cfg.ExecDir = ""
	cfg.Class, cfg.Machine = info.Class, info.Machine
	cfg.RootImage, cfg.Debug = root, d
	natives := NewNatives()
	natives.Fallback = ExecutorFunc(func(c *Call) (int, error) {
		log.Printf("skip %s", c)
		return 0, nil
	})
	env := New(os.DirFS(ctx.String("dir")), natives, cfg)
	if err = env.Init(); err != nil {
		return
	}
	for _, s := range ctx.Args().Slice() {
		if err = env.LoadLibrary(s); err != nil {
			return
		}
	}
	if p := ctx.String("spawn"); p != "" {
		var status int
		if status, err = env.Spawnl(p, p); err != nil {
			return
		}
		log.Printf("%s exited with %d", p, status)
	}
	log.Printf("\n%s", env.Infos().String())
	return env.Term()
}
