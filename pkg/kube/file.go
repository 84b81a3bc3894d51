package kube

import (
	"fmt"

	"github.com/spf13/afero"
	"sigs.k8s.io/yaml"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/audit"
	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/models"
)

// LoadSnapshot reads a snapshot saved as YAML or JSON. A file that cannot be
// read or parsed, or that has no pod listing, is reported as audit.ErrNoData.
func LoadSnapshot(fs afero.Fs, path string) (*models.Snapshot, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, fmt.Errorf("%w: reading %s: %v", audit.ErrNoData, path, err)
	}
	var snapshot models.Snapshot
	if err := yaml.Unmarshal(data, &snapshot); err != nil {
		return nil, fmt.Errorf("%w: parsing %s: %v", audit.ErrNoData, path, err)
	}
	if snapshot.Pods == nil {
		return nil, fmt.Errorf("%w: %s has no pods", audit.ErrNoData, path)
	}
	return &snapshot, nil
}

// SaveSnapshot writes a snapshot as YAML so a run can be reproduced offline.
func SaveSnapshot(fs afero.Fs, path string, snapshot *models.Snapshot) error {
	data, err := yaml.Marshal(snapshot)
	if err != nil {
		return fmt.Errorf("marshalling snapshot: %w", err)
	}
	if err := afero.WriteFile(fs, path, data, 0644); err != nil {
		return fmt.Errorf("writing snapshot to %s: %w", path, err)
	}
	return nil
}
