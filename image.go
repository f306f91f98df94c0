package elflink

import (
	"errors"
	"fmt"
	"io/fs"
	"path"
	"strings"
)

// candidates lists the paths tried for a module name. A name with a slash is
// taken as given, a bare name is looked up in ExecDir and then in Path.
func (e *Env) candidates(name string) []string {
	if strings.Contains(name, "/") {
		return []string{fsPath(name)}
	}
	out := []string{fsPath(e.cfg.ExecDir + name)}
	for _, dir := range e.cfg.Path {
		if dir != "" {
			out = append(out, fsPath(path.Join(dir, name)))
		}
	}
	return out
}

// fsPath turns an absolute module path into an io/fs path.
func fsPath(p string) string {
	p = path.Clean(strings.TrimLeft(p, "/"))
	if p == "" || p == "/" {
		return "."
	}
	return p
}

// readModule returns the bytes of the first candidate that exists.
func (e *Env) readModule(name string) ([]byte, string, error) {
	if e.fsys == nil {
		return nil, "", fmt.Errorf("%w: %s: no file system", ErrNotFound, name)
	}
	for _, p := range e.candidates(name) {
		st, err := fs.Stat(e.fsys, p)
		if errors.Is(err, fs.ErrNotExist) || (err == nil && st.IsDir()) {
			continue
		}
		if err != nil {
			return nil, p, fmt.Errorf("stat %s: %w", p, err)
		}
		if e.cfg.MaxImage > 0 && st.Size() > e.cfg.MaxImage {
			return nil, p, fmt.Errorf("%w: %s is %d bytes, limit %d", ErrMalformed, p, st.Size(), e.cfg.MaxImage)
		}
		data, err := fs.ReadFile(e.fsys, p)
		if err != nil {
			return nil, p, fmt.Errorf("read %s: %w", p, err)
		}
		if e.debug {
			e.log.Printf("read %s from %s, %d bytes", name, p, len(data))
		}
		return data, p, nil
	}
	return nil, "", fmt.Errorf("%w: %s: %w", ErrNotFound, name, fs.ErrNotExist)
}
