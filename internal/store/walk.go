package store

import (
	"os"
	"path/filepath"
	"strings"
)

// walkVectorFiles visits every vector_*.text file under the
// collection's directory fanout, parsing each into a Point. fn returning
// (false, nil) stops the walk early without error.
func (s *FSStore) walkVectorFiles(fn func(path string, p *Point) (cont bool, err error)) error {
	stopped := false
	err := filepath.WalkDir(s.Collection.Dir, func(path string, d os.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if stopped {
			return filepath.SkipAll
		}
		if d.IsDir() {
			return nil
		}
		name := d.Name()
		if !strings.HasPrefix(name, "vector_") || !strings.HasSuffix(name, ".text") {
			return nil
		}
		p, err := ReadPointFile(path)
		if err != nil {
			return err
		}
		cont, err := fn(path, p)
		if err != nil {
			return err
		}
		if !cont {
			stopped = true
		}
		return nil
	})
	return err
}
