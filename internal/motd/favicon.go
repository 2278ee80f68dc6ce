package motd

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image/png"
	"os"
	"path/filepath"
	"strings"

	"github.com/rs/zerolog"
)

// FaviconPrefix starts every favicon data URL.
const FaviconPrefix = "data:image/png;base64,"

// FaviconSize is the edge length clients expect, in pixels.
const FaviconSize = 64

type faviconEntry struct {
	url string
	err error
}

// FaviconCache loads favicons once per generation pass.
type FaviconCache struct {
	baseDir string
	entries map[string]faviconEntry
	logger  zerolog.Logger
}

// NewFaviconCache resolves relative favicon paths against baseDir.
func NewFaviconCache(baseDir string, logger zerolog.Logger) *FaviconCache {
	return &FaviconCache{
		baseDir: baseDir,
		entries: make(map[string]faviconEntry),
		logger:  logger,
	}
}

// Load returns the data URL for ref, which is either a PNG file path or
// an inline data URL.
func (c *FaviconCache) Load(ref string) (string, error) {
	if e, ok := c.entries[ref]; ok {
		return e.url, e.err
	}
	url, err := c.load(ref)
	c.entries[ref] = faviconEntry{url: url, err: err}
	return url, err
}

func (c *FaviconCache) load(ref string) (string, error) {
	if strings.HasPrefix(ref, FaviconPrefix) {
		data, err := base64.StdEncoding.DecodeString(strings.TrimPrefix(ref, FaviconPrefix))
		if err != nil {
			return "", fmt.Errorf("%w: inline data: %v", ErrFaviconLoad, err)
		}
		if err := c.check(ref[:min(len(ref), 48)], data); err != nil {
			return "", err
		}
		return ref, nil
	}

	path := ref
	if !filepath.IsAbs(path) && c.baseDir != "" {
		path = filepath.Join(c.baseDir, path)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrFaviconLoad, err)
	}
	if err := c.check(path, data); err != nil {
		return "", err
	}
	return FaviconPrefix + base64.StdEncoding.EncodeToString(data), nil
}

func (c *FaviconCache) check(name string, data []byte) error {
	cfg, err := png.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("%w: %s is not a PNG: %v", ErrFaviconLoad, name, err)
	}
	if cfg.Width != FaviconSize || cfg.Height != FaviconSize {
		c.logger.Warn().
			Str("favicon", name).
			Int("width", cfg.Width).
			Int("height", cfg.Height).
			Msg("favicon is not 64x64, clients may refuse to show it")
	}
	return nil
}
