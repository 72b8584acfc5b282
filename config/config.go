// Package config provides configuration loading for furigana using TOML.
package config

import (
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"time"

	"github.com/BurntSushi/toml"
)

// Display settings
type Display struct {
	DisplayMode  string `toml:"displayMode"`  // "always" or "hover"
	FuriganaType string `toml:"furiganaType"` // "hiragana", "katakana" or "romaji"
	SelectMode   string `toml:"selectMode"`   // "original" or "furigana"
	FontSize     int    `toml:"fontSize"`     // percent of the base text
	FontColor    string `toml:"fontColor"`
}

// Tokenizer service settings
type Tokenizer struct {
	URL            string `toml:"url"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	BatchChars     int    `toml:"batchChars"`
	MaxAttempts    int    `toml:"maxAttempts"`
	BackoffMillis  int    `toml:"backoffMillis"`
	MaxInFlight    int    `toml:"maxInFlight"`
}

// Rules file locations
type Rules struct {
	Path string `toml:"path"` // global rules file
	Dir  string `toml:"dir"`  // per-domain rules directory
}

// Watcher settings
type Watcher struct {
	DebounceMillis int `toml:"debounceMillis"`
}

// HTTP fetching settings
type Fetcher struct {
	UserAgent      string `toml:"userAgent"`
	TimeoutSeconds int    `toml:"timeoutSeconds"`
	ChromePath     string `toml:"chromePath"`
}

// Log settings
type Log struct {
	Level string `toml:"level"` // "debug", "info", "warn" or "error"
}

// Config is the main configuration struct
type Config struct {
	Display   Display   `toml:"display"`
	Tokenizer Tokenizer `toml:"tokenizer"`
	Rules     Rules     `toml:"rules"`
	Watcher   Watcher   `toml:"watcher"`
	Fetcher   Fetcher   `toml:"fetcher"`
	Log       Log       `toml:"log"`
}

// Default returns the default configuration.
func Default() *Config {
	return &Config{
		Display: Display{
			DisplayMode:  "always",
			FuriganaType: "hiragana",
			SelectMode:   "original",
			FontSize:     50,
			FontColor:    "inherit",
		},
		Tokenizer: Tokenizer{
			URL:            "http://127.0.0.1:8765/tokenize",
			TimeoutSeconds: 10,
			BatchChars:     2000,
			MaxAttempts:    3,
			BackoffMillis:  200,
			MaxInFlight:    4,
		},
		Watcher: Watcher{
			DebounceMillis: 16,
		},
		Fetcher: Fetcher{
			UserAgent:      "furigana/1.0",
			TimeoutSeconds: 30,
			ChromePath:     "",
		},
		Log: Log{
			Level: "warn",
		},
	}
}

// configDir returns the configuration directory path.
func configDir() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(home, ".config", "furigana"), nil
}

// ConfigPath returns the path to the user's config file.
func ConfigPath() (string, error) {
	dir, err := configDir()
	if err != nil {
		return "", err
	}
	return filepath.Join(dir, "config.toml"), nil
}

// Load loads configuration, layering user config on top of defaults.
// Returns the default config if no user config exists.
func Load() (*Config, error) {
	configPath, err := ConfigPath()
	if err != nil {
		return Default(), nil // Return defaults if we can't determine path
	}
	return LoadFile(configPath)
}

// LoadFile loads the config at path on top of defaults. A missing file
// yields the defaults.
func LoadFile(path string) (*Config, error) {
	cfg := Default()

	if _, err := os.Stat(path); os.IsNotExist(err) {
		return cfg, nil
	}

	userCfg, err := loadFromTOML(path)
	if err != nil {
		return nil, fmt.Errorf("loading config from %s: %w", path, err)
	}

	result := merge(cfg, userCfg)
	if err := result.Validate(); err != nil {
		return nil, fmt.Errorf("config %s: %w", path, err)
	}
	return result, nil
}

// loadFromTOML loads a TOML config file and returns the config.
func loadFromTOML(path string) (*Config, error) {
	var cfg Config
	if _, err := toml.DecodeFile(path, &cfg); err != nil {
		return nil, fmt.Errorf("parsing config TOML: %w", err)
	}
	return &cfg, nil
}

// merge layers user config on top of defaults.
// Only non-zero values from user config override defaults.
func merge(defaults, user *Config) *Config {
	result := *defaults

	// Display
	mergeString(&result.Display.DisplayMode, user.Display.DisplayMode)
	mergeString(&result.Display.FuriganaType, user.Display.FuriganaType)
	mergeString(&result.Display.SelectMode, user.Display.SelectMode)
	mergeInt(&result.Display.FontSize, user.Display.FontSize)
	mergeString(&result.Display.FontColor, user.Display.FontColor)

	// Tokenizer
	mergeString(&result.Tokenizer.URL, user.Tokenizer.URL)
	mergeInt(&result.Tokenizer.TimeoutSeconds, user.Tokenizer.TimeoutSeconds)
	mergeInt(&result.Tokenizer.BatchChars, user.Tokenizer.BatchChars)
	mergeInt(&result.Tokenizer.MaxAttempts, user.Tokenizer.MaxAttempts)
	mergeInt(&result.Tokenizer.BackoffMillis, user.Tokenizer.BackoffMillis)
	mergeInt(&result.Tokenizer.MaxInFlight, user.Tokenizer.MaxInFlight)

	// Rules
	mergeString(&result.Rules.Path, user.Rules.Path)
	mergeString(&result.Rules.Dir, user.Rules.Dir)

	// Watcher
	mergeInt(&result.Watcher.DebounceMillis, user.Watcher.DebounceMillis)

	// Fetcher
	mergeString(&result.Fetcher.UserAgent, user.Fetcher.UserAgent)
	mergeInt(&result.Fetcher.TimeoutSeconds, user.Fetcher.TimeoutSeconds)
	mergeString(&result.Fetcher.ChromePath, user.Fetcher.ChromePath)

	// Log
	mergeString(&result.Log.Level, user.Log.Level)

	return &result
}

func mergeString(dst *string, src string) {
	if src != "" {
		*dst = src
	}
}

func mergeInt(dst *int, src int) {
	if src != 0 {
		*dst = src
	}
}

// Validate rejects values outside the known enumerations.
func (c *Config) Validate() error {
	if err := oneOf("display.displayMode", c.Display.DisplayMode, "always", "hover"); err != nil {
		return err
	}
	if err := oneOf("display.furiganaType", c.Display.FuriganaType, "hiragana", "katakana", "romaji"); err != nil {
		return err
	}
	if err := oneOf("display.selectMode", c.Display.SelectMode, "original", "furigana"); err != nil {
		return err
	}
	if err := oneOf("log.level", c.Log.Level, "debug", "info", "warn", "error"); err != nil {
		return err
	}
	if !colorPattern.MatchString(c.Display.FontColor) {
		return fmt.Errorf("display.fontColor: %q is not a CSS colour", c.Display.FontColor)
	}
	if c.Display.FontSize < 0 || c.Tokenizer.BatchChars < 0 || c.Tokenizer.MaxAttempts < 0 || c.Tokenizer.MaxInFlight < 0 {
		return fmt.Errorf("negative sizes are not allowed")
	}
	return nil
}

// colorPattern accepts colour keywords, hex colours and the functional
// rgb/hsl notations.
var colorPattern = regexp.MustCompile(`^(?:[a-zA-Z]+|#[0-9a-fA-F]{3,8}|(?:rgb|rgba|hsl|hsla)\([0-9.,%/+\- a-z]+\))$`)

func oneOf(key, val string, allowed ...string) error {
	for _, a := range allowed {
		if val == a {
			return nil
		}
	}
	return fmt.Errorf("%s: unknown value %q (want one of %v)", key, val, allowed)
}

// TokenizerTimeout returns the per-request timeout.
func (c *Config) TokenizerTimeout() time.Duration {
	return time.Duration(c.Tokenizer.TimeoutSeconds) * time.Second
}

// TokenizerBackoff returns the first retry delay.
func (c *Config) TokenizerBackoff() time.Duration {
	return time.Duration(c.Tokenizer.BackoffMillis) * time.Millisecond
}

// Debounce returns the mutation debounce interval.
func (c *Config) Debounce() time.Duration {
	return time.Duration(c.Watcher.DebounceMillis) * time.Millisecond
}

// FetchTimeout bounds a whole page load: the plain request, then a browser
// render that is given fifteen seconds more.
func (c *Config) FetchTimeout() time.Duration {
	secs := c.Fetcher.TimeoutSeconds
	if secs <= 0 {
		secs = 30
	}
	per := time.Duration(secs) * time.Second
	return 2*per + 15*time.Second
}

// DefaultTOML returns the default configuration as a TOML string.
// Used for --init-config to generate a user config file.
func DefaultTOML() string {
	return `# furigana configuration
# Save to ~/.config/furigana/config.toml and customize
# Only include settings you want to change from defaults

# How readings are shown
[display]
displayMode = "always"        # "always" or "hover" (readings appear on mouse-over)
furiganaType = "hiragana"     # "hiragana", "katakana" or "romaji"
selectMode = "original"       # "original" copies base text only, "furigana" copies readings too
fontSize = 50                 # reading size, percent of the base text
fontColor = "inherit"

# Morphological analysis service (see cmd/tokenizerd)
[tokenizer]
url = "http://127.0.0.1:8765/tokenize"
timeoutSeconds = 10
batchChars = 2000             # max characters per request
maxAttempts = 3               # attempts for transient failures
backoffMillis = 200           # first retry delay, doubled per attempt
maxInFlight = 4               # concurrent requests

# Selector rules
[rules]
path = ""                     # global rules file (empty = built-in rules)
dir = ""                      # per-domain rules directory (empty = ~/.config/furigana/rules)

# Page mutation handling
[watcher]
debounceMillis = 16

# HTTP fetching settings
[fetcher]
userAgent = "furigana/1.0"
timeoutSeconds = 30
chromePath = ""               # Path to Chrome/Chromium for JS rendering (empty = auto-detect)

[log]
level = "warn"                # "debug", "info", "warn" or "error"
`
}
