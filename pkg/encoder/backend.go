package encoder

import "github.com/pkg/errors"

var backends = map[string]Backend{}

// Register makes a backend selectable by name. Backends that need cgo
// register themselves from their own package.
func Register(b Backend) {
	backends[b.Name()] = b
}

func init() {
	Register(NullBackend{})
}

// Lookup returns the named backend.
func Lookup(name string) (Backend, error) {
	b, ok := backends[name]
	if !ok {
		return nil, errors.Errorf("unknown video backend %q", name)
	}
	return b, nil
}
