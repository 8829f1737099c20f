package prefs

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSaveAndLoad(t *testing.T) {
	dir := t.TempDir()
	p := Load(dir)
	assert.Equal(t, "", p.String(KeyTab))
	assert.Equal(t, 800.0, p.FloatWithFallback(KeyWidth, 800))

	p.SetString(KeyTab, "oysters")
	p.SetFloat(KeyWidth, 1280)
	require.NoError(t, p.Save())

	again := Load(dir)
	assert.Equal(t, "oysters", again.String(KeyTab))
	assert.Equal(t, 1280.0, again.FloatWithFallback(KeyWidth, 800))
}

func TestLoadCorruptFile(t *testing.T) {
	dir := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(dir, prefsFile), []byte("{not json"), 0o644))
	p := Load(dir)
	assert.Equal(t, "", p.String(KeyTab))
}

func TestDirIgnoresMissing(t *testing.T) {
	dir := t.TempDir()
	p := Load(dir)
	p.SetString(KeyImageDir, dir)
	p.SetString(KeyFolderDir, filepath.Join(dir, "gone"))
	assert.Equal(t, dir, p.Dir(KeyImageDir))
	assert.Equal(t, "", p.Dir(KeyFolderDir))
}
