package kube

import (
	"context"
	"errors"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/fairwindsops/insights-plugins/plugins/kube-checker/pkg/audit"
)

func TestSaveAndLoadSnapshot(t *testing.T) {
	fs := afero.NewMemMapFs()
	snapshot, err := CollectSnapshot(context.Background(), fakeCluster(), nil, 1)
	require.NoError(t, err)

	require.NoError(t, SaveSnapshot(fs, "snapshot.yaml", snapshot))
	loaded, err := LoadSnapshot(fs, "snapshot.yaml")
	require.NoError(t, err)
	assert.Len(t, loaded.Pods, 3)
	assert.Len(t, loaded.ReplicaSets, 1)
	assert.Len(t, loaded.StatefulSets, 1)
}

func TestLoadSnapshotNoData(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "broken.yaml", []byte("pods: [this is: not: valid"), 0644))
	require.NoError(t, afero.WriteFile(fs, "nopods.yaml", []byte("deployments: []\n"), 0644))

	for _, path := range []string{"missing.yaml", "broken.yaml", "nopods.yaml"} {
		_, err := LoadSnapshot(fs, path)
		assert.True(t, errors.Is(err, audit.ErrNoData), path)
	}
}
