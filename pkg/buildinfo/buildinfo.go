// Package buildinfo provides a file-backed build descriptor implementing
// bizlogic.BuildFacts.
package buildinfo

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/httprunner/bizlogic/pkg/bizlogic"
	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"
)

// Info describes a suite build:
//
//	attributes:
//	  SUITE_NAME: CTS
//	  SUITE_VERSION: "14_r3"
//	  device_info_dir: results/device-info-files
//	versioned_files:
//	  - path: testcases/cts.dynamic
//	    version: DYNAMIC_CONFIG_FILE:CTS
type Info struct {
	Attributes map[string]string        `yaml:"attributes"`
	Files      []bizlogic.VersionedFile `yaml:"versioned_files"`
}

// Load reads a descriptor from path. Relative file paths and device_info_dir
// are resolved against the descriptor's directory.
func Load(path string) (*Info, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "buildinfo: read %s", path)
	}
	info, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "buildinfo: parse %s", path)
	}
	info.resolvePaths(filepath.Dir(path))
	return info, nil
}

// Parse decodes a YAML descriptor.
func Parse(data []byte) (*Info, error) {
	var info Info
	if err := yaml.Unmarshal(data, &info); err != nil {
		return nil, errors.Wrap(err, "buildinfo: decode yaml")
	}
	if info.Attributes == nil {
		info.Attributes = map[string]string{}
	}
	for i, f := range info.Files {
		if strings.TrimSpace(f.Path) == "" {
			return nil, errors.Errorf("buildinfo: versioned file #%d has no path", i)
		}
	}
	return &info, nil
}

func (i *Info) resolvePaths(base string) {
	for idx, f := range i.Files {
		if !filepath.IsAbs(f.Path) {
			i.Files[idx].Path = filepath.Join(base, f.Path)
		}
	}
	if dir := strings.TrimSpace(i.Attributes[bizlogic.AttrDeviceInfoDir]); dir != "" && !filepath.IsAbs(dir) {
		i.Attributes[bizlogic.AttrDeviceInfoDir] = filepath.Join(base, dir)
	}
}

// Attribute implements bizlogic.BuildFacts.
func (i *Info) Attribute(key string) (string, bool) {
	if i == nil {
		return "", false
	}
	v, ok := i.Attributes[key]
	return v, ok
}

// VersionedFiles implements bizlogic.BuildFacts.
func (i *Info) VersionedFiles() []bizlogic.VersionedFile {
	if i == nil {
		return nil
	}
	return append([]bizlogic.VersionedFile(nil), i.Files...)
}
