package config

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeUserConfig(t *testing.T, home string) string {
	t.Helper()
	t.Setenv("HOME", home)
	dir, err := GetUserConfigDir()
	require.NoError(t, err)
	require.NoError(t, os.MkdirAll(dir, 0o755))
	path, err := GetUserConfigPath()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, []byte("accuracy: fast\n"), 0o644))
	return path
}

func TestBackupUserConfigNoFileReturnsEmpty(t *testing.T) {
	t.Setenv("HOME", t.TempDir())
	path, err := BackupUserConfig()
	require.NoError(t, err)
	assert.Empty(t, path)
}

func TestBackupUserConfigCreatesBackup(t *testing.T) {
	home := t.TempDir()
	writeUserConfig(t, home)

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)
	require.NotEmpty(t, backupPath)

	data, err := os.ReadFile(backupPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "accuracy: fast")
}

func TestListUserConfigBackupsFindsBackup(t *testing.T) {
	home := t.TempDir()
	writeUserConfig(t, home)

	_, err := BackupUserConfig()
	require.NoError(t, err)

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.Len(t, backups, 1)
}

func TestCleanupKeepsOnlyMaxBackups(t *testing.T) {
	home := t.TempDir()
	configPath := writeUserConfig(t, home)

	for i := 0; i < MaxBackups+2; i++ {
		backupPath := configPath + BackupSuffix + "." + filepath.Base(configPath) + string(rune('a'+i))
		require.NoError(t, os.WriteFile(backupPath, []byte("x"), 0o644))
	}

	require.NoError(t, cleanupOldBackups())

	backups, err := ListUserConfigBackups()
	require.NoError(t, err)
	assert.LessOrEqual(t, len(backups), MaxBackups)
}

func TestRestoreUserConfig(t *testing.T) {
	home := t.TempDir()
	configPath := writeUserConfig(t, home)

	backupPath, err := BackupUserConfig()
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(configPath, []byte("accuracy: high\n"), 0o644))

	require.NoError(t, RestoreUserConfig(backupPath))

	data, err := os.ReadFile(configPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "accuracy: fast")
}
