package trace

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"
)

// WriteDocument marshals doc and writes it to path atomically: the JSON is
// written to a temp file in the same directory first, then renamed over
// the destination, so a run that is killed mid-write never leaves a
// truncated trace behind. Grounded on the teacher's SaveReport
// (pkg/reporting/storage.go), simplified from "one report per run, kept
// for N generations" down to "one trace document per run".
func WriteDocument(path string, doc Document) error {
	dir := filepath.Dir(path)
	if dir != "" && dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("failed to create output directory: %w", err)
		}
	}

	data, err := json.Marshal(doc)
	if err != nil {
		return fmt.Errorf("failed to marshal trace document: %w", err)
	}

	tmp, err := os.CreateTemp(dir, filepath.Base(path)+".tmp-*")
	if err != nil {
		return fmt.Errorf("failed to create temp trace file: %w", err)
	}
	tmpPath := tmp.Name()
	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpPath)
		return fmt.Errorf("failed to write trace file: %w", err)
	}
	if err := tmp.Close(); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to close trace file: %w", err)
	}
	if err := os.Rename(tmpPath, path); err != nil {
		os.Remove(tmpPath)
		return fmt.Errorf("failed to finalize trace file: %w", err)
	}
	return nil
}
