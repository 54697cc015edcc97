package config

import (
	"path/filepath"
	"runtime"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultConfigPath_XDG(t *testing.T) {
	if runtime.GOOS != platformLinux {
		t.Skip("XDG_CONFIG_HOME applies on Linux only")
	}

	xdg := t.TempDir()
	t.Setenv("XDG_CONFIG_HOME", xdg)

	assert.Equal(t, filepath.Join(xdg, appName), DefaultConfigDir())
	assert.Equal(t, filepath.Join(xdg, appName, configFileName), DefaultConfigPath())
}

func TestDefaultConfigPath_Home(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)
	t.Setenv("XDG_CONFIG_HOME", "")

	want := filepath.Join(home, ".config", appName)
	if runtime.GOOS == platformDarwin {
		want = filepath.Join(home, "Library", "Application Support", appName)
	}

	assert.Equal(t, want, DefaultConfigDir())
}
