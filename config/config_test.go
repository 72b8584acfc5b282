package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/BurntSushi/toml"
	"github.com/google/go-cmp/cmp"
)

func TestDefaultTOMLMatchesDefault(t *testing.T) {
	var cfg Config
	if _, err := toml.Decode(DefaultTOML(), &cfg); err != nil {
		t.Fatalf("DefaultTOML does not parse: %v", err)
	}
	if diff := cmp.Diff(*Default(), cfg); diff != "" {
		t.Errorf("DefaultTOML drifted from Default (-want +got):\n%s", diff)
	}
}

func TestLoadFileMergesOverDefaults(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "config.toml")
	os.WriteFile(path, []byte(`
[display]
furiganaType = "katakana"
displayMode = "hover"

[tokenizer]
url = "http://tokenizer:9000/tokenize"
maxInFlight = 8
`), 0644)

	cfg, err := LoadFile(path)
	if err != nil {
		t.Fatalf("LoadFile failed: %v", err)
	}

	want := Default()
	want.Display.FuriganaType = "katakana"
	want.Display.DisplayMode = "hover"
	want.Tokenizer.URL = "http://tokenizer:9000/tokenize"
	want.Tokenizer.MaxInFlight = 8
	if diff := cmp.Diff(want, cfg); diff != "" {
		t.Errorf("config mismatch (-want +got):\n%s", diff)
	}
	if cfg.TokenizerBackoff() != 200*time.Millisecond {
		t.Errorf("expected 200ms backoff, got %v", cfg.TokenizerBackoff())
	}
	if cfg.Debounce() != 16*time.Millisecond {
		t.Errorf("expected 16ms debounce, got %v", cfg.Debounce())
	}
}

func TestLoadFileMissing(t *testing.T) {
	cfg, err := LoadFile(filepath.Join(t.TempDir(), "nope.toml"))
	if err != nil {
		t.Fatalf("expected defaults for a missing file, got %v", err)
	}
	if diff := cmp.Diff(Default(), cfg); diff != "" {
		t.Errorf("expected defaults (-want +got):\n%s", diff)
	}
}

func TestValidateAcceptsColours(t *testing.T) {
	for _, c := range []string{"inherit", "crimson", "#a00", "#aa0000ff", "rgb(200, 0, 0)", "hsl(0 100% 40% / 0.5)"} {
		cfg := Default()
		cfg.Display.FontColor = c
		if err := cfg.Validate(); err != nil {
			t.Errorf("expected %q to be accepted, got %v", c, err)
		}
	}
}

func TestLoadFileRejectsBadValues(t *testing.T) {
	tests := []struct {
		name    string
		content string
		wantErr string
	}{
		{"bad toml", "[display\n", "parsing config TOML"},
		{"unknown furigana type", "[display]\nfuriganaType = \"cyrillic\"\n", "display.furiganaType"},
		{"unknown log level", "[log]\nlevel = \"loud\"\n", "log.level"},
		{"style breakout", "[display]\nfontColor = \"red}</style><script>x</script>\"\n", "display.fontColor"},
		{"css injection", "[display]\nfontColor = \"red;position:fixed\"\n", "display.fontColor"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			path := filepath.Join(t.TempDir(), "config.toml")
			os.WriteFile(path, []byte(tt.content), 0644)
			_, err := LoadFile(path)
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestFetchTimeoutCoversBrowserFallback(t *testing.T) {
	cfg := Default()
	cfg.Fetcher.TimeoutSeconds = 10
	if got := cfg.FetchTimeout(); got != 35*time.Second {
		t.Errorf("expected 35s, got %v", got)
	}
	cfg.Fetcher.TimeoutSeconds = 0
	if got := cfg.FetchTimeout(); got != 75*time.Second {
		t.Errorf("expected the 30s default to apply, got %v", got)
	}
}
