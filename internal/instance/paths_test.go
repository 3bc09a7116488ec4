package instance

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDirDefaultsToHome(t *testing.T) {
	t.Setenv("FLASHD_HOME", "")
	home, _ := os.UserHomeDir()
	got := Dir("main")
	want := filepath.Join(home, ".flashd", "instances", "main")
	if got != want {
		t.Errorf("Dir(main) = %q, want %q", got, want)
	}
}

func TestDirHonoursEnv(t *testing.T) {
	tmp := t.TempDir()
	t.Setenv("FLASHD_HOME", tmp)
	if got, want := Dir("dev"), filepath.Join(tmp, "instances", "dev"); got != want {
		t.Errorf("Dir(dev) = %q, want %q", got, want)
	}
	if got, want := GlobalConfigPath(), filepath.Join(tmp, "config.toml"); got != want {
		t.Errorf("GlobalConfigPath() = %q, want %q", got, want)
	}
}

func TestPathSuffixes(t *testing.T) {
	tests := []struct {
		name string
		got  string
		want string
	}{
		{"socket", SocketPath("test"), filepath.Join("instances", "test", "flashd.sock")},
		{"sqlite", SQLitePath("test"), filepath.Join("instances", "test", "sessions.db")},
		{"bolt", BoltPath("test"), filepath.Join("instances", "test", "sessions.bolt")},
		{"log", LogPath("test"), filepath.Join("instances", "test", "logs", "flashd.log")},
		{"config", ConfigPath("test"), filepath.Join("instances", "test", "config.toml")},
		{"cookies", CookieJarPath("test"), filepath.Join("instances", "test", "flashctl.toml")},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if !strings.HasSuffix(tt.got, tt.want) {
				t.Errorf("%q does not end with %q", tt.got, tt.want)
			}
		})
	}
}

func TestEnsureDir(t *testing.T) {
	t.Setenv("FLASHD_HOME", t.TempDir())

	if err := EnsureDir("test"); err != nil {
		t.Fatal(err)
	}
	for _, d := range []string{Dir("test"), LogDir("test")} {
		info, err := os.Stat(d)
		if err != nil {
			t.Fatalf("%s not created: %v", d, err)
		}
		if !info.IsDir() {
			t.Errorf("%s is not a directory", d)
		}
	}
}
