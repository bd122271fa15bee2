package config_test

import (
	"os"
	"path/filepath"
	"reflect"
	"testing"

	cfg "github.com/NamanBalaji/tordisk/internal/config"
	"github.com/adrg/xdg"
	"github.com/c2h5oh/datasize"
)

func withTempConfigHome(t *testing.T) (restore func(), dir string, file string) {
	t.Helper()
	orig := xdg.ConfigHome
	dir = t.TempDir()
	xdg.ConfigHome = dir
	restore = func() { xdg.ConfigHome = orig }
	file = filepath.Join(dir, "tordisk")
	return
}

func TestGetConfig_Table(t *testing.T) {
	restore, _, cfgFile := withTempConfigHome(t)
	defer restore()

	def := cfg.DefaultConfig()

	tests := []struct {
		name      string
		preWrite  bool
		contents  string
		expectErr bool
		check     func(t *testing.T, got *cfg.Config, def cfg.Config)
	}{
		{
			name:     "missing_file_returns_defaults",
			preWrite: false,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:     "empty_file_returns_defaults",
			preWrite: true,
			contents: "",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if !reflect.DeepEqual(*got, def) {
					t.Fatalf("expected defaults\nwant: %#v\ngot:  %#v", def, *got)
				}
			},
		},
		{
			name:      "invalid_yaml_returns_error",
			preWrite:  true,
			contents:  ": not yaml",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
		{
			name:      "unknown_preallocation_returns_error",
			preWrite:  true,
			contents:  "preallocation: eager\n",
			expectErr: true,
			check:     func(t *testing.T, _ *cfg.Config, _ cfg.Config) {},
		},
		{
			name:     "partial_override_and_fallback",
			preWrite: true,
			contents: `
downloadDir: /srv/data
incompleteDir: /srv/incomplete
incompleteFileNaming: true
preallocation: full
cacheSize: 16MB
prefetchMagnetMetadata: true
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.DownloadDir != "/srv/data" {
					t.Fatalf("want downloadDir=/srv/data got %q", got.DownloadDir)
				}
				if got.IncompleteDir != "/srv/incomplete" {
					t.Fatalf("want incompleteDir=/srv/incomplete got %q", got.IncompleteDir)
				}
				if !got.IncompleteFileNaming {
					t.Fatalf("want incompleteFileNaming=true")
				}
				if got.Preallocation != cfg.PreallocationFull {
					t.Fatalf("want preallocation=full got %q", got.Preallocation)
				}
				if got.CacheSize != 16*datasize.MB {
					t.Fatalf("want cacheSize=16MB got %s", got.CacheSize.HumanReadable())
				}
				if !got.PrefetchMagnetMetadata {
					t.Fatalf("want prefetchMagnetMetadata=true")
				}
				// fallbacks
				if got.OpenFileLimit != def.OpenFileLimit {
					t.Fatalf("want openFileLimit default %d got %d", def.OpenFileLimit, got.OpenFileLimit)
				}
				if got.VerifyWorkers != def.VerifyWorkers {
					t.Fatalf("want verifyWorkers default %d got %d", def.VerifyWorkers, got.VerifyWorkers)
				}
				if got.StateDir != def.StateDir {
					t.Fatalf("want stateDir default %q got %q", def.StateDir, got.StateDir)
				}
			},
		},
		{
			name:     "explicit_zero_values_fall_back_to_defaults",
			preWrite: true,
			contents: `
downloadDir: ""
openFileLimit: 0
verifyWorkers: 0
preallocation: ""
`,
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.DownloadDir != def.DownloadDir {
					t.Fatalf("downloadDir zero should fallback. want %q got %q", def.DownloadDir, got.DownloadDir)
				}
				if got.OpenFileLimit != def.OpenFileLimit {
					t.Fatalf("openFileLimit zero should fallback. want %d got %d", def.OpenFileLimit, got.OpenFileLimit)
				}
				if got.VerifyWorkers != def.VerifyWorkers {
					t.Fatalf("verifyWorkers zero should fallback. want %d got %d", def.VerifyWorkers, got.VerifyWorkers)
				}
				if got.CacheSize != def.CacheSize {
					t.Fatalf("missing cacheSize should fallback. want %d got %d", def.CacheSize, got.CacheSize)
				}
				if got.Preallocation != def.Preallocation {
					t.Fatalf("preallocation empty should fallback. want %q got %q", def.Preallocation, got.Preallocation)
				}
			},
		},
		{
			name:     "explicit_zero_cache_size_disables_cache",
			preWrite: true,
			contents: "cacheSize: 0\n",
			check: func(t *testing.T, got *cfg.Config, def cfg.Config) {
				if got.CacheSize != 0 {
					t.Fatalf("want cacheSize=0 got %s", got.CacheSize.HumanReadable())
				}
				if got.OpenFileLimit != def.OpenFileLimit {
					t.Fatalf("want openFileLimit default %d got %d", def.OpenFileLimit, got.OpenFileLimit)
				}
			},
		},
		{
			name:     "cache_size_with_unit",
			preWrite: true,
			contents: "cacheSize: 512KB\n",
			check: func(t *testing.T, got *cfg.Config, _ cfg.Config) {
				if got.CacheSize != 512*datasize.KB {
					t.Fatalf("want cacheSize=512KB got %s", got.CacheSize.HumanReadable())
				}
			},
		},
	}

	for _, tc := range tests {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			// clean start each subtest
			_ = os.Remove(cfgFile)
			if tc.preWrite {
				if err := os.WriteFile(cfgFile, []byte(tc.contents), 0o600); err != nil {
					t.Fatalf("write test config: %v", err)
				}
			}
			got, err := cfg.GetConfig()
			if tc.expectErr {
				if err == nil {
					t.Fatalf("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("GetConfig error: %v", err)
			}
			tc.check(t, got, def)
		})
	}
}

func TestPath(t *testing.T) {
	restore, dir, _ := withTempConfigHome(t)
	defer restore()

	if got, want := cfg.Path(), filepath.Join(dir, "tordisk"); got != want {
		t.Fatalf("Path() = %q, want %q", got, want)
	}
}
