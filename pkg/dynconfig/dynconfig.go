// Package dynconfig parses suite dynamic config files:
//
//	<dynamicConfig>
//	  <entry key="business_logic_device_features">
//	    <value>android.hardware.type.watch</value>
//	  </entry>
//	</dynamicConfig>
package dynconfig

import (
	"bytes"
	"encoding/xml"
	"io"
	"os"
	"strings"

	"github.com/pkg/errors"
)

type xmlDynamicConfig struct {
	XMLName xml.Name   `xml:"dynamicConfig"`
	Entries []xmlEntry `xml:"entry"`
}

type xmlEntry struct {
	Key    string   `xml:"key,attr"`
	Values []string `xml:"value"`
}

// Config maps entry keys to their ordered values.
type Config struct {
	entries map[string][]string
}

// ParseFile reads and parses the dynamic config at path.
func ParseFile(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "dynconfig: read %s", path)
	}
	return ParseBytes(data)
}

// ParseBytes parses an in-memory dynamic config.
func ParseBytes(data []byte) (*Config, error) {
	return Parse(bytes.NewReader(data))
}

// Parse decodes a dynamic config document. Entries repeating a key append
// to the values of the first occurrence.
func Parse(r io.Reader) (*Config, error) {
	var doc xmlDynamicConfig
	if err := xml.NewDecoder(r).Decode(&doc); err != nil {
		return nil, errors.Wrap(err, "dynconfig: decode xml")
	}
	cfg := &Config{entries: make(map[string][]string, len(doc.Entries))}
	for _, entry := range doc.Entries {
		key := strings.TrimSpace(entry.Key)
		if key == "" {
			return nil, errors.New("dynconfig: entry without key")
		}
		if _, ok := cfg.entries[key]; !ok {
			cfg.entries[key] = []string{}
		}
		for _, v := range entry.Values {
			cfg.entries[key] = append(cfg.entries[key], strings.TrimSpace(v))
		}
	}
	return cfg, nil
}

// New builds a Config from already parsed entries.
func New(entries map[string][]string) *Config {
	cfg := &Config{entries: make(map[string][]string, len(entries))}
	for key, values := range entries {
		cfg.entries[key] = append([]string(nil), values...)
	}
	return cfg
}

// Values returns a copy of the values listed under key.
func (c *Config) Values(key string) []string {
	if c == nil {
		return nil
	}
	values, ok := c.entries[key]
	if !ok {
		return nil
	}
	return append([]string(nil), values...)
}
