package policy

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefault(t *testing.T) {
	p := Default()
	assert.Equal(t, 0.25, p.Similarity.Threshold)
	assert.Equal(t, 500.0, p.Similarity.RadiusMeters)
	assert.Equal(t, 90, p.Recurrence.WindowDays)
	assert.Equal(t, 5, p.Recurrence.ChronicThreshold)
	assert.Equal(t, 15.0, p.Density.DuplicateRadiusMeters)
	assert.Equal(t, 50.0, p.Infrastructure.ProximityMeters)
	assert.Len(t, p.KeywordFamilies, 3)
}

func TestLoad_NoPath(t *testing.T) {
	p, err := Load("")
	require.NoError(t, err)
	assert.Equal(t, Default(), p)
}

func TestLoad_Overlay(t *testing.T) {
	path := filepath.Join(t.TempDir(), "policy.yaml")
	data := []byte("similarity:\n  threshold: 0.4\nrecurrence:\n  chronic_threshold: 3\n")
	require.NoError(t, os.WriteFile(path, data, 0o600))

	p, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 0.4, p.Similarity.Threshold)
	assert.Equal(t, 3, p.Recurrence.ChronicThreshold)
	// Untouched fields keep defaults.
	assert.Equal(t, 500.0, p.Similarity.RadiusMeters)
	assert.Equal(t, "general", p.DefaultCategory)
}

func TestLoad_MissingFile(t *testing.T) {
	_, err := Load("/nonexistent/policy.yaml")
	require.Error(t, err)
}

func TestKeywordFamilyMatches(t *testing.T) {
	f := KeywordFamily{Keywords: []string{"pothole", "sinkhole"}}
	assert.True(t, f.Matches("Giant POTHOLE on Main"))
	assert.True(t, f.Matches("possible sinkhole forming"))
	assert.False(t, f.Matches("broken streetlight"))
}
