package store

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// WriteXYZ writes a structure in the standard XYZ interchange format:
// atom count, a comment line, then one "Sym x y z" row per atom. The
// file is replaced atomically.
func WriteXYZ(path, comment string, atoms []AtomRecord) error {
	var b strings.Builder
	fmt.Fprintf(&b, "%d\n%s\n", len(atoms), comment)
	for _, a := range atoms {
		fmt.Fprintf(&b, "%-3s %12.6f %12.6f %12.6f\n", a.Symbol, a.X, a.Y, a.Z)
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, []byte(b.String()), 0644); err != nil {
		return fmt.Errorf("failed to write temp xyz file: %w", err)
	}
	if err := os.Rename(tempPath, path); err != nil {
		os.Remove(tempPath)
		return fmt.Errorf("failed to rename xyz file: %w", err)
	}
	return nil
}

// BestXYZPath returns the canonical location of a job's best structure.
func BestXYZPath(baseDir, jobID string) string {
	return filepath.Join(baseDir, "jobs", jobID, "best.xyz")
}
