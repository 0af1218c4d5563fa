package storage

import (
	"encoding/json"
	"fmt"
	"os"
	"path/filepath"

	"mediadupfinder/internal/models"
)

// ReportVersion is bumped when the report layout changes incompatibly
const ReportVersion = 1

// Report is the on-disk form of a scan result, consumed by list and clean
type Report struct {
	Version   int                `json:"version"`
	Roots     []string           `json:"roots"`
	Signature string             `json:"signature"`
	Result    *models.ScanResult `json:"result"`
}

// WriteReport writes r to path atomically
func WriteReport(path string, r *Report) error {
	r.Version = ReportVersion

	dir := filepath.Dir(path)
	if err := os.MkdirAll(dir, 0755); err != nil {
		return fmt.Errorf("failed to create directory: %w", err)
	}

	tmp, err := os.CreateTemp(dir, ".report-*.json")
	if err != nil {
		return fmt.Errorf("failed to create report: %w", err)
	}
	defer os.Remove(tmp.Name())

	enc := json.NewEncoder(tmp)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to encode report: %w", err)
	}
	if err := tmp.Close(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}
	return nil
}

// ReadReport loads a report written by WriteReport
func ReadReport(path string) (*Report, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read report: %w", err)
	}

	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, fmt.Errorf("failed to parse report %s: %w", path, err)
	}
	if r.Version != ReportVersion {
		return nil, fmt.Errorf("report %s has version %d, expected %d", path, r.Version, ReportVersion)
	}
	if r.Result == nil {
		return nil, fmt.Errorf("report %s has no scan result", path)
	}
	return &r, nil
}
