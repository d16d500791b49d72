package security

import (
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidatePathWithinDirectory(t *testing.T) {
	tmpDir := t.TempDir()
	safeDir := filepath.Join(tmpDir, "safe")
	unsafeDir := filepath.Join(tmpDir, "unsafe")
	require.NoError(t, os.MkdirAll(safeDir, 0o755))
	require.NoError(t, os.MkdirAll(unsafeDir, 0o755))
	require.NoError(t, os.Symlink(unsafeDir, filepath.Join(safeDir, "evil-symlink")))

	tests := []struct {
		name     string
		filePath string
		safeDir  string
		wantErr  bool
	}{
		{"file in directory", filepath.Join(safeDir, "report.html"), safeDir, false},
		{"nested new path", filepath.Join(safeDir, "cell01", "summary.html"), safeDir, false},
		{"the directory itself", safeDir, safeDir, false},
		{"dot-dot escape", filepath.Join(safeDir, "..", "unsafe", "x"), safeDir, true},
		{"relative escape", "../../../etc/passwd", safeDir, true},
		{"sibling prefix", safeDir + "-other/x", safeDir, true},
		{"through symlink to existing file", filepath.Join(safeDir, "evil-symlink", "secret.txt"), safeDir, true},
		{"new file under symlink", filepath.Join(safeDir, "evil-symlink", "new", "f.txt"), safeDir, true},
		{"missing safe dir", filepath.Join(tmpDir, "x"), filepath.Join(tmpDir, "nope"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := ValidatePathWithinDirectory(tt.filePath, tt.safeDir)
			if tt.wantErr {
				assert.Error(t, err)
			} else {
				assert.NoError(t, err)
			}
		})
	}
}

func TestValidatePathWithinAllowedDirs(t *testing.T) {
	a, b := t.TempDir(), t.TempDir()

	assert.NoError(t, ValidatePathWithinAllowedDirs(filepath.Join(b, "f"), []string{a, b}))
	assert.ErrorIs(t, ValidatePathWithinAllowedDirs("/etc/passwd", []string{a, b}), ErrPathEscape)
	assert.Error(t, ValidatePathWithinAllowedDirs(filepath.Join(a, "f"), nil))
}

func TestValidateExportPath(t *testing.T) {
	t.Chdir(t.TempDir())

	assert.NoError(t, ValidateExportPath("reports"))
	assert.NoError(t, ValidateExportPath(filepath.Join(os.TempDir(), "backup.db")))
	assert.ErrorIs(t, ValidateExportPath("/etc/punctatrack"), ErrPathEscape)
}

func TestSanitizeFilename(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in, want string
	}{
		{"cell01", "cell01"},
		{"cell 01 / ctrl", "cell_01_ctrl"},
		{"../../etc", "etc"},
		{"..", "unknown"},
		{"", "unknown"},
		{"__a.b-c__", "a.b-c"},
		{"zelle-ä", "zelle-"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeFilename(tt.in), tt.in)
	}
	assert.Len(t, SanitizeFilename(strings.Repeat("x", 300)), 128)
}
