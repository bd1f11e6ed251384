package dork

import (
	_ "embed"
	"os"
	"strings"

	"github.com/rotisserie/eris"
	"gopkg.in/yaml.v3"
)

//go:embed engines.yaml
var defaultEnginesYAML []byte

type engineFile struct {
	Engines []Engine `yaml:"engines"`
}

// DefaultEngines returns the built-in duckduckgo-html, bing and google
// descriptors.
func DefaultEngines() []Engine {
	engines, err := parseEngines(defaultEnginesYAML)
	if err != nil {
		panic(err)
	}
	return engines
}

// LoadEngines reads engine descriptors from path. An empty path or a file
// with no engines yields the defaults.
func LoadEngines(path string) ([]Engine, error) {
	if path == "" {
		return DefaultEngines(), nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, eris.Wrapf(err, "dork: read engines file %s", path)
	}
	engines, err := parseEngines(data)
	if err != nil {
		return nil, eris.Wrapf(err, "dork: load engines file %s", path)
	}
	if len(engines) == 0 {
		return DefaultEngines(), nil
	}
	return engines, nil
}

func parseEngines(data []byte) ([]Engine, error) {
	var f engineFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, eris.Wrap(err, "dork: decode engines")
	}
	seen := make(map[string]bool, len(f.Engines))
	for _, e := range f.Engines {
		if err := e.Validate(); err != nil {
			return nil, err
		}
		if seen[e.Name] {
			return nil, eris.Errorf("dork: duplicate engine %s", e.Name)
		}
		seen[e.Name] = true
	}
	return f.Engines, nil
}

var platformSites = map[string]string{
	"linkedin":  "linkedin.com",
	"facebook":  "facebook.com",
	"instagram": "instagram.com",
	"twitter":   "x.com",
	"x":         "x.com",
	"youtube":   "youtube.com",
	"tiktok":    "tiktok.com",
	"yelp":      "yelp.com",
}

// PlatformSite maps a mission platform to a site restriction. Values that
// already look like a domain pass through; unknown names give "".
func PlatformSite(platform string) string {
	platform = strings.ToLower(strings.TrimSpace(platform))
	if site, ok := platformSites[platform]; ok {
		return site
	}
	if strings.Contains(platform, ".") {
		return platform
	}
	return ""
}
