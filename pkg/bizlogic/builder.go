package bizlogic

import (
	"net/url"
	"os"
	"strings"

	"github.com/httprunner/bizlogic/pkg/deviceinfo"
	"github.com/httprunner/bizlogic/pkg/dynconfig"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// Query parameter names of the business logic request.
const (
	ParamKey          = "key"
	ParamSuiteVersion = "suite_version"
	ParamOEM          = "oem"
	ParamFeatures     = "features"
	ParamProperties   = "properties"
	ParamPackage      = "package"
	ParamDeviceInfo   = "device_info"
)

// Dynamic config keys listing the probes.
const (
	KeyDeviceFeatures     = "business_logic_device_features"
	KeyDeviceProperties   = "business_logic_device_properties"
	KeyExtendedDeviceInfo = "business_logic_extended_device_info"
)

// Param is one query parameter before encoding.
type Param struct {
	Name  string
	Value string
}

// ConfigLoader parses the dynamic config file at path.
type ConfigLoader func(path string) (*dynconfig.Config, error)

// DeviceInfoLoader opens the device-info files collected under dir.
type DeviceInfoLoader func(dir string) (DeviceInfoSource, error)

// Builder assembles business logic request URLs. File access goes through
// the loaders so tests can hand in parsed structures.
type Builder struct {
	LoadConfig     ConfigLoader
	LoadDeviceInfo DeviceInfoLoader
}

// NewBuilder returns a Builder reading config and device-info files from disk.
func NewBuilder() *Builder {
	return &Builder{
		LoadConfig: dynconfig.ParseFile,
		LoadDeviceInfo: func(dir string) (DeviceInfoSource, error) {
			return deviceinfo.LoadDir(dir)
		},
	}
}

// Request is a built request: the encoded URL and the parameters after the
// api key.
type Request struct {
	URL    string
	Params []Param
}

// Build returns the full request URL: base URL, api key, then every
// parameter produced by Params, URL-encoded.
func (b *Builder) Build(spec RequestSpec, device DeviceFacts, build BuildFacts) (string, error) {
	req, err := b.BuildRequest(spec, device, build)
	if err != nil {
		return "", err
	}
	return req.URL, nil
}

// BuildRequest is Build that also returns the unencoded parameters.
func (b *Builder) BuildRequest(spec RequestSpec, device DeviceFacts, build BuildFacts) (Request, error) {
	suite, err := suiteName(build)
	if err != nil {
		return Request{}, err
	}
	version, _ := build.Attribute(AttrSuiteVersion)
	base, err := spec.BaseURL(suite, version)
	if err != nil {
		return Request{}, err
	}
	params, err := b.params(spec, suite, device, build)
	if err != nil {
		return Request{}, err
	}
	return Request{URL: Encode(base, spec.APIKey, params), Params: params}, nil
}

// Params returns the request parameters, excluding the api key.
func (b *Builder) Params(spec RequestSpec, device DeviceFacts, build BuildFacts) ([]Param, error) {
	suite, err := suiteName(build)
	if err != nil {
		return nil, err
	}
	return b.params(spec, suite, device, build)
}

// Encode joins base URL, api key and params into the request string. When
// base already carries a query the request parameters follow it.
func Encode(base, apiKey string, params []Param) string {
	var sb strings.Builder
	sb.WriteString(base)
	switch {
	case !strings.Contains(base, "?"):
		sb.WriteString("?")
	case !strings.HasSuffix(base, "?") && !strings.HasSuffix(base, "&"):
		sb.WriteString("&")
	}
	sb.WriteString(ParamKey)
	sb.WriteString("=")
	sb.WriteString(url.QueryEscape(apiKey))
	for _, p := range params {
		sb.WriteString("&")
		sb.WriteString(p.Name)
		sb.WriteString("=")
		sb.WriteString(url.QueryEscape(p.Value))
	}
	return sb.String()
}

func suiteName(build BuildFacts) (string, error) {
	if build == nil {
		return "", errors.Wrap(ErrConfig, "build facts are nil")
	}
	name, ok := build.Attribute(AttrSuiteName)
	name = strings.TrimSpace(name)
	if !ok || name == "" {
		return "", errors.Wrapf(ErrConfig, "build attribute %s not set", AttrSuiteName)
	}
	return name, nil
}

func (b *Builder) params(spec RequestSpec, suite string, device DeviceFacts, build BuildFacts) ([]Param, error) {
	if device == nil {
		return nil, errors.New("bizlogic: device facts are nil")
	}
	probes, err := b.resolveProbes(spec, suite, build)
	if err != nil {
		return nil, err
	}

	var params []Param
	if version, ok := build.Attribute(AttrSuiteVersion); ok && strings.TrimSpace(version) != "" {
		params = append(params, Param{Name: ParamSuiteVersion, Value: strings.TrimSpace(version)})
	}
	oem, ok, err := device.Property(PropManufacturer)
	if err != nil {
		return nil, errors.Wrapf(err, "read property %s", PropManufacturer)
	}
	if ok {
		params = append(params, Param{Name: ParamOEM, Value: oem})
	}

	features, err := matchFeatures(device, probes.Features)
	if err != nil {
		return nil, err
	}
	params = append(params, features...)

	properties, err := matchProperties(device, spec.ContentProviderURI, probes.Properties)
	if err != nil {
		return nil, err
	}
	params = append(params, properties...)

	packages, err := listPackages(device)
	if err != nil {
		return nil, err
	}
	params = append(params, packages...)

	params = append(params, b.extendedDeviceInfo(build, probes.DeviceInfo)...)

	log.Debug().
		Str("suite", suite).
		Int("features", len(features)).
		Int("properties", len(properties)).
		Int("packages", len(packages)).
		Int("params", len(params)).
		Msg("business logic params built")
	return params, nil
}

func (b *Builder) resolveProbes(spec RequestSpec, suite string, build BuildFacts) (Probes, error) {
	if spec.Probes != nil {
		return *spec.Probes, nil
	}
	tag := DynamicConfigVersionPrefix + suite
	path := ""
	for _, f := range build.VersionedFiles() {
		if f.Version == tag {
			path = f.Path
			break
		}
	}
	if path == "" {
		return Probes{}, errors.Wrapf(ErrConfigMissing, "no versioned file tagged %s", tag)
	}
	load := b.LoadConfig
	if load == nil {
		load = dynconfig.ParseFile
	}
	cfg, err := load(path)
	if errors.Is(err, os.ErrNotExist) {
		return Probes{}, errors.Wrapf(ErrConfigMissing, "dynamic config %s does not exist", path)
	}
	if err != nil {
		return Probes{}, errors.Wrapf(ErrMalformedConfig, "load %s: %v", path, err)
	}
	return Probes{
		Features:   cfg.Values(KeyDeviceFeatures),
		Properties: cfg.Values(KeyDeviceProperties),
		DeviceInfo: cfg.Values(KeyExtendedDeviceInfo),
	}, nil
}

func matchFeatures(device DeviceFacts, probes []string) ([]Param, error) {
	if len(probes) == 0 {
		return nil, nil
	}
	wanted := toSet(probes)
	available, err := device.Features()
	if err != nil {
		return nil, errors.Wrap(err, "list device features")
	}
	seen := make(map[string]struct{}, len(available))
	var params []Param
	for _, feature := range available {
		feature = strings.TrimSpace(feature)
		if _, ok := wanted[feature]; !ok {
			continue
		}
		if _, dup := seen[feature]; dup {
			continue
		}
		seen[feature] = struct{}{}
		params = append(params, Param{Name: ParamFeatures, Value: feature})
	}
	return params, nil
}

// matchProperties resolves each probe against device properties first and
// falls back to content provider rows matched by their name column.
func matchProperties(device DeviceFacts, contentURI string, probes []string) ([]Param, error) {
	var (
		rows       map[string]string
		rowsLoaded bool
		params     []Param
	)
	seen := make(map[string]struct{}, len(probes))
	for _, name := range probes {
		name = strings.TrimSpace(name)
		if name == "" {
			continue
		}
		if _, dup := seen[name]; dup {
			continue
		}
		seen[name] = struct{}{}

		value, ok, err := device.Property(name)
		if err != nil {
			return nil, errors.Wrapf(err, "read property %s", name)
		}
		if !ok && contentURI != "" {
			if !rowsLoaded {
				rows, err = contentValues(device, contentURI)
				if err != nil {
					return nil, err
				}
				rowsLoaded = true
			}
			value, ok = rows[name]
		}
		if !ok {
			log.Debug().Str("property", name).Msg("business logic property not found")
			continue
		}
		params = append(params, Param{Name: ParamProperties, Value: name + ":" + value})
	}
	return params, nil
}

func contentValues(device DeviceFacts, uri string) (map[string]string, error) {
	rows, err := device.QueryContentProvider(uri)
	if err != nil {
		return nil, errors.Wrapf(err, "query content provider %s", uri)
	}
	values := make(map[string]string, len(rows))
	for _, row := range rows {
		name, ok := row["name"]
		if !ok {
			continue
		}
		if _, exists := values[name]; exists {
			continue
		}
		values[name] = row["value"]
	}
	return values, nil
}

func listPackages(device DeviceFacts) ([]Param, error) {
	packages, err := device.InstalledPackages()
	if err != nil {
		return nil, errors.Wrap(err, "list installed packages")
	}
	seen := make(map[string]struct{}, len(packages))
	params := make([]Param, 0, len(packages))
	for _, pkg := range packages {
		pkg = strings.TrimSpace(pkg)
		if pkg == "" {
			continue
		}
		if _, dup := seen[pkg]; dup {
			continue
		}
		seen[pkg] = struct{}{}
		params = append(params, Param{Name: ParamPackage, Value: pkg})
	}
	return params, nil
}

// extendedDeviceInfo never fails: a missing directory, file or field only
// drops the affected entries.
func (b *Builder) extendedDeviceInfo(build BuildFacts, probes []string) []Param {
	if len(probes) == 0 {
		return nil
	}
	dir, ok := build.Attribute(AttrDeviceInfoDir)
	if !ok || strings.TrimSpace(dir) == "" {
		log.Debug().Msg("business logic device info dir not set, skip extended device info")
		return nil
	}
	load := b.LoadDeviceInfo
	if load == nil {
		return nil
	}
	source, err := load(dir)
	if err != nil || source == nil {
		log.Debug().Err(err).Str("dir", dir).Msg("load device info failed, skip extended device info")
		return nil
	}
	seen := make(map[string]struct{}, len(probes))
	var params []Param
	for _, probe := range probes {
		probe = strings.TrimSpace(probe)
		infoClass, field, found := strings.Cut(probe, ":")
		if !found || infoClass == "" || field == "" {
			log.Debug().Str("probe", probe).Msg("invalid device info probe, want InfoClass:field")
			continue
		}
		if _, dup := seen[probe]; dup {
			continue
		}
		seen[probe] = struct{}{}
		value, ok := source.Lookup(infoClass, field)
		if !ok {
			log.Debug().Str("probe", probe).Msg("device info field not found")
			continue
		}
		params = append(params, Param{Name: ParamDeviceInfo, Value: infoClass + ":" + field + ":" + value})
	}
	return params
}

func toSet(values []string) map[string]struct{} {
	set := make(map[string]struct{}, len(values))
	for _, v := range values {
		if v = strings.TrimSpace(v); v != "" {
			set[v] = struct{}{}
		}
	}
	return set
}
