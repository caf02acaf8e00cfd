package flashlog

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/sbinet/npyio"
	"gonum.org/v1/gonum/mat"
)

// ExportNPY writes a snapshot of every retained channel to NumPy files in
// dir, one file per channel holding a 2×N array of (time, volts). Valid in
// any state; a Running session exports whatever the retained window holds
// at call time.
func (s *Session) ExportNPY(dir string) ([]string, error) {
	s.stateLock.Lock()
	columns := append([]string(nil), s.columns...)
	retained := s.retained
	window := s.cfg.WindowSec
	s.stateLock.Unlock()
	if retained == nil {
		return nil, fmt.Errorf("nothing to export before the first Start")
	}

	if err := os.MkdirAll(dir, 0755); err != nil {
		return nil, &PersistenceError{Path: dir, Err: err}
	}
	var written []string
	for _, id := range columns {
		samples, _ := retained[id].Snapshot(window)
		if len(samples) == 0 {
			continue
		}
		data := make([]float64, 2*len(samples))
		for i, p := range samples {
			data[i] = p.T
			data[len(samples)+i] = p.V
		}
		m := mat.NewDense(2, len(samples), data)
		path := filepath.Join(dir, fmt.Sprintf("channel_%s.npy", id))
		if err := writeNPY(path, m); err != nil {
			return written, err
		}
		written = append(written, path)
	}
	return written, nil
}

func writeNPY(path string, m *mat.Dense) error {
	f, err := os.Create(path)
	if err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	if err := npyio.Write(f, m); err != nil {
		f.Close()
		return &PersistenceError{Path: path, Err: err}
	}
	if err := f.Close(); err != nil {
		return &PersistenceError{Path: path, Err: err}
	}
	return nil
}
