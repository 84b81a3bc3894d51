package report

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/afero"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// WriteJSON writes the full report to path. The file is written to a
// temporary name first and renamed, so readers never see a partial report.
func WriteJSON(fs afero.Fs, path string, report *models.Report) error {
	outputBytes, err := json.MarshalIndent(report, "", "  ")
	if err != nil {
		return fmt.Errorf("marshalling report: %w", err)
	}
	tempFile := path + ".tmp"
	if err := afero.WriteFile(fs, tempFile, outputBytes, 0644); err != nil {
		return fmt.Errorf("writing output to file: %w", err)
	}
	if err := fs.Rename(tempFile, path); err != nil {
		return fmt.Errorf("renaming output file: %w", err)
	}
	return nil
}
