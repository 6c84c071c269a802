package persistence

import (
	"encoding/json"
	"os"
	"path/filepath"
	"time"
)

// ScanForCorruption walks every JSON record under dir and verifies it parses
// as valid JSON, without caring about its schema. It is run once at startup
// so that a single corrupted file is reported and quarantined rather than
// silently breaking whichever load happens to touch it first.
func ScanForCorruption(dir string) (CorruptionScanResult, error) {
	start := time.Now()
	result := CorruptionScanResult{}

	for _, sub := range []string{"work_orders", "runs", "iterations", "audit"} {
		entries, err := os.ReadDir(filepath.Join(dir, sub))
		if os.IsNotExist(err) {
			continue
		}
		if err != nil {
			return result, err
		}
		for _, e := range entries {
			if e.IsDir() || filepath.Ext(e.Name()) != ".json" {
				continue
			}
			result.TotalFiles++
			path := filepath.Join(dir, sub, e.Name())
			data, err := os.ReadFile(path)
			if err != nil || !json.Valid(data) {
				result.InvalidCount++
				result.CorruptedFiles = append(result.CorruptedFiles, path)
				continue
			}
			result.ValidCount++
		}
	}

	result.DurationMS = time.Since(start).Milliseconds()
	return result, nil
}

// Quarantine renames a corrupted file out of its active directory so
// subsequent loads never see it again, leaving a .corrupt suffix for later
// manual inspection.
func Quarantine(path string) error {
	return os.Rename(path, path+".corrupt")
}
