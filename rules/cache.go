package rules

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
)

// Cache manages per-domain rule files on top of one global rules file.
type Cache struct {
	localDir    string
	globalPath  string
	memoryCache map[string]*Set
	logger      *zap.Logger
}

// NewCache creates a new rule cache.
// If localDir is empty, uses ~/.config/furigana/rules/
func NewCache(localDir, globalPath string, logger *zap.Logger) (*Cache, error) {
	if localDir == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("getting home dir: %w", err)
		}
		localDir = filepath.Join(home, ".config", "furigana", "rules")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	if err := os.MkdirAll(localDir, 0755); err != nil {
		return nil, fmt.Errorf("creating rules dir: %w", err)
	}

	return &Cache{
		localDir:    localDir,
		globalPath:  globalPath,
		memoryCache: make(map[string]*Set),
		logger:      logger,
	}, nil
}

// Get retrieves the rule set for a domain.
// Checks: memory cache → local file → returns nil if not found
func (c *Cache) Get(domain string) *Set {
	domain = normalizeDomain(domain)

	if s, ok := c.memoryCache[domain]; ok {
		return s
	}

	s, err := LoadFile(c.filePath(domain))
	if err != nil {
		if !errors.Is(err, os.ErrNotExist) {
			c.logger.Warn("domain rules rejected", zap.String("domain", domain), zap.Error(err))
		}
		return nil
	}
	c.memoryCache[domain] = s
	return s
}

// ForURL returns the rules for the page at rawURL: the domain's own file when
// there is one, otherwise the global file, otherwise the built-in set.
func (c *Cache) ForURL(rawURL string) *Set {
	if domain := extractDomain(rawURL); domain != "" {
		if s := c.Get(domain); s != nil {
			return s
		}
	}
	return LoadOrDefault(c.globalPath, c.logger)
}

// Put compiles rules for a domain, keeps them in memory and optionally
// writes them to disk.
func (c *Cache) Put(domain string, rules []Rule, persist bool) error {
	s, err := Compile(rules)
	if err != nil {
		return err
	}
	domain = normalizeDomain(domain)
	s.source = c.filePath(domain)
	c.memoryCache[domain] = s

	if persist {
		return c.saveToFile(domain, rules)
	}
	return nil
}

// Delete removes a domain's rules from cache and disk.
func (c *Cache) Delete(domain string) error {
	domain = normalizeDomain(domain)
	delete(c.memoryCache, domain)

	if err := os.Remove(c.filePath(domain)); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

// List returns all domains with rules.
func (c *Cache) List() ([]string, error) {
	var domains []string
	seen := make(map[string]bool)

	for domain := range c.memoryCache {
		domains = append(domains, domain)
		seen[domain] = true
	}

	entries, err := os.ReadDir(c.localDir)
	if err != nil {
		if os.IsNotExist(err) {
			return domains, nil
		}
		return nil, err
	}

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()
		if strings.HasSuffix(name, ".json") {
			domain := strings.TrimSuffix(name, ".json")
			if !seen[domain] {
				domains = append(domains, domain)
			}
		}
	}

	return domains, nil
}

// LocalDir returns the local cache directory path.
func (c *Cache) LocalDir() string {
	return c.localDir
}

func (c *Cache) filePath(domain string) string {
	// Sanitize domain for use as filename
	safe := strings.ReplaceAll(domain, "/", "_")
	safe = strings.ReplaceAll(safe, ":", "_")
	return filepath.Join(c.localDir, safe+".json")
}

func (c *Cache) saveToFile(domain string, rules []Rule) error {
	data, err := json.MarshalIndent(rules, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling rules: %w", err)
	}

	if err := os.WriteFile(c.filePath(domain), data, 0644); err != nil {
		return fmt.Errorf("writing rules file: %w", err)
	}

	return nil
}

// normalizeDomain ensures consistent domain format.
func normalizeDomain(domain string) string {
	domain = strings.ToLower(domain)
	domain = strings.TrimPrefix(domain, "www.")
	return domain
}

// extractDomain gets the domain from a URL.
func extractDomain(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	return normalizeDomain(parsed.Hostname())
}
