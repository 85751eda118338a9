package bizlogic

import (
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/httprunner/bizlogic/pkg/deviceinfo"
	"github.com/httprunner/bizlogic/pkg/dynconfig"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const (
	testURL       = "https://businesslogic.example.com/v1/{suite-name}/{module}/rules"
	testAPIKey    = "fake-api-key"
	testConfigTag = DynamicConfigVersionPrefix + "CTS"
	testInfoDir   = "/results/device-info-files"

	partnerServiceURL = "https://androidpartner.googleapis.com/v1/dynamicconfig/" +
		"suites/{suite-name}/modules/{module}/version/{version}?key=123"
)

type fakeDevice struct {
	props       map[string]string
	features    []string
	packages    []string
	totalMemory int64
	rows        []ContentRow
	propErr     error
	rowQueries  int
}

func (d *fakeDevice) Property(name string) (string, bool, error) {
	if d.propErr != nil {
		return "", false, d.propErr
	}
	v, ok := d.props[name]
	return v, ok, nil
}

func (d *fakeDevice) Features() ([]string, error)          { return d.features, nil }
func (d *fakeDevice) InstalledPackages() ([]string, error) { return d.packages, nil }
func (d *fakeDevice) TotalMemory() (int64, error)          { return d.totalMemory, nil }

func (d *fakeDevice) QueryContentProvider(uri string) ([]ContentRow, error) {
	d.rowQueries++
	return d.rows, nil
}

type fakeBuild struct {
	attrs map[string]string
	files []VersionedFile
}

func (b *fakeBuild) Attribute(key string) (string, bool) {
	v, ok := b.attrs[key]
	return v, ok
}

func (b *fakeBuild) VersionedFiles() []VersionedFile { return b.files }

func fixtureConfig() *dynconfig.Config {
	return dynconfig.New(map[string][]string{
		"remote_config_required": {"false"},
		KeyDeviceFeatures: {
			"android.hardware.type.automotive",
			"android.hardware.type.television",
			"android.hardware.type.watch",
			"android.hardware.type.embedded",
			"android.hardware.type.pc",
			"android.software.leanback",
		},
		KeyDeviceProperties: {
			"ro.product.brand",
			"ro.product.first_api_level",
			"ro.product.manufacturer",
			"ro.product.model",
			"ro.product.name",
			"client_id",
			"search_client_id",
			"ro.not.set.anywhere",
		},
		KeyExtendedDeviceInfo: {
			"MemoryDeviceInfo:total_memory",
			"MemoryDeviceInfo:low_ram_device",
			"MemoryDeviceInfo:absent_field",
			"GenericDeviceInfo:build_serial",
		},
	})
}

func fixtureDevice() *fakeDevice {
	return &fakeDevice{
		props: map[string]string{
			"ro.product.brand":           "Google",
			"ro.product.first_api_level": "26",
			"ro.product.manufacturer":    "Google",
			"ro.product.model":           "Pixel Watch",
			"ro.product.name":            "rohan",
			"ro.build.fingerprint":       "google/rohan/rohan:14/UQ1A:user/release-keys",
		},
		features: []string{
			"android.hardware.wifi",
			"android.hardware.type.watch",
			"android.software.leanback",
			"android.hardware.bluetooth",
		},
		packages:    []string{"com.android.settings", "com.google.android.gms", "com.example.app"},
		totalMemory: 2 << 30,
		rows: []ContentRow{
			{"name": "ro.product.model", "value": "ignored-model"},
			{"_id": "35", "name": "use_location_for_services", "value": "1"},
			{"_id": "163", "name": "client_id", "value": "android-google"},
			{"_id": "164", "name": "search_client_id", "value": "ms-android-google"},
		},
	}
}

func fixtureBuild() *fakeBuild {
	return &fakeBuild{
		attrs: map[string]string{
			AttrSuiteName:     "CTS",
			AttrSuiteVersion:  "14_r3",
			AttrDeviceInfoDir: testInfoDir,
		},
		files: []VersionedFile{
			{Path: "/testcases/gts.dynamic", Version: DynamicConfigVersionPrefix + "GTS"},
			{Path: "/testcases/cts.dynamic", Version: testConfigTag},
		},
	}
}

func fixtureBuilder(t *testing.T) *Builder {
	t.Helper()
	memory := deviceinfo.NewSnapshot()
	require.NoError(t, memory.Add("MemoryDeviceInfo", []byte(`{"low_ram_device": false, "total_memory": 1992869888}`)))
	return &Builder{
		LoadConfig: func(path string) (*dynconfig.Config, error) {
			if path != "/testcases/cts.dynamic" {
				return nil, errors.Errorf("unexpected config path %s", path)
			}
			return fixtureConfig(), nil
		},
		LoadDeviceInfo: func(dir string) (DeviceInfoSource, error) {
			if dir != testInfoDir {
				return nil, errors.Errorf("unexpected device info dir %s", dir)
			}
			return memory, nil
		},
	}
}

func fixtureSpec() RequestSpec {
	return NewRequestSpec(testURL, testAPIKey, "CtsBusinessLogicTestCases")
}

// flatten returns every name=value pair of the parsed query.
func flatten(t *testing.T, raw string) []string {
	t.Helper()
	parsed, err := url.Parse(raw)
	require.NoError(t, err)
	var pairs []string
	for name, values := range parsed.Query() {
		for _, v := range values {
			pairs = append(pairs, name+"="+v)
		}
	}
	return pairs
}

func TestBuildFixture(t *testing.T) {
	got, err := fixtureBuilder(t).Build(fixtureSpec(), fixtureDevice(), fixtureBuild())
	require.NoError(t, err)

	require.True(t, strings.HasPrefix(got,
		"https://businesslogic.example.com/v1/CTS/CtsBusinessLogicTestCases/rules?key=fake-api-key&"), got)

	want := []string{
		"key=fake-api-key",
		"suite_version=14_r3",
		"oem=Google",
		"features=android.hardware.type.watch",
		"features=android.software.leanback",
		"properties=ro.product.brand:Google",
		"properties=ro.product.first_api_level:26",
		"properties=ro.product.manufacturer:Google",
		"properties=ro.product.model:Pixel Watch",
		"properties=ro.product.name:rohan",
		"properties=client_id:android-google",
		"properties=search_client_id:ms-android-google",
		"package=com.android.settings",
		"package=com.google.android.gms",
		"package=com.example.app",
		"device_info=MemoryDeviceInfo:total_memory:1992869888",
		"device_info=MemoryDeviceInfo:low_ram_device:false",
	}
	pairs := flatten(t, got)
	assert.Len(t, pairs, 17)
	assert.ElementsMatch(t, want, pairs)

	// raw encoding of the separator and spaces
	assert.Contains(t, got, "properties=ro.product.brand%3AGoogle")
	assert.Contains(t, got, "properties=ro.product.model%3APixel+Watch")
	assert.Contains(t, got, "device_info=MemoryDeviceInfo%3Atotal_memory%3A1992869888")
	assert.NotContains(t, got, "ignored-model")
	assert.NotContains(t, got, "ro.not.set.anywhere")
	assert.NotContains(t, got, "android.hardware.wifi")
}

func TestBuildIsIdempotent(t *testing.T) {
	builder := fixtureBuilder(t)
	first, err := builder.Build(fixtureSpec(), fixtureDevice(), fixtureBuild())
	require.NoError(t, err)
	second, err := builder.Build(fixtureSpec(), fixtureDevice(), fixtureBuild())
	require.NoError(t, err)
	assert.ElementsMatch(t, flatten(t, first), flatten(t, second))
}

func TestParamsDeduplicates(t *testing.T) {
	device := fixtureDevice()
	device.features = append(device.features, "android.hardware.type.watch")
	device.packages = append(device.packages, "com.example.app", " ")
	spec := fixtureSpec()
	spec.Probes = &Probes{
		Features:   []string{"android.hardware.type.watch", "android.hardware.type.watch"},
		Properties: []string{"ro.product.brand", "ro.product.brand"},
		DeviceInfo: []string{"MemoryDeviceInfo:total_memory", "MemoryDeviceInfo:total_memory"},
	}
	params, err := fixtureBuilder(t).Params(spec, device, fixtureBuild())
	require.NoError(t, err)

	counts := make(map[string]int)
	for _, p := range params {
		counts[p.Name]++
	}
	assert.Equal(t, 1, counts[ParamFeatures])
	assert.Equal(t, 1, counts[ParamProperties])
	assert.Equal(t, 3, counts[ParamPackage])
	assert.Equal(t, 1, counts[ParamDeviceInfo])
}

func TestProbesOverrideSkipsDynamicConfig(t *testing.T) {
	builder := fixtureBuilder(t)
	builder.LoadConfig = func(string) (*dynconfig.Config, error) {
		t.Fatal("dynamic config must not be loaded when probes are set")
		return nil, nil
	}
	build := fixtureBuild()
	build.files = nil
	spec := fixtureSpec()
	spec.Probes = &Probes{Features: []string{"android.software.leanback"}}

	params, err := builder.Params(spec, fixtureDevice(), build)
	require.NoError(t, err)
	assert.Contains(t, params, Param{Name: ParamFeatures, Value: "android.software.leanback"})
}

func TestContentProviderQueriedOnceAndOnlyWhenNeeded(t *testing.T) {
	device := fixtureDevice()
	spec := fixtureSpec()
	spec.Probes = &Probes{Properties: []string{"ro.product.brand", "ro.product.model"}}
	_, err := fixtureBuilder(t).Params(spec, device, fixtureBuild())
	require.NoError(t, err)
	assert.Equal(t, 0, device.rowQueries)

	spec.Probes = &Probes{Properties: []string{"client_id", "search_client_id", "absent"}}
	_, err = fixtureBuilder(t).Params(spec, device, fixtureBuild())
	require.NoError(t, err)
	assert.Equal(t, 1, device.rowQueries)

	device.rowQueries = 0
	spec.ContentProviderURI = ""
	params, err := fixtureBuilder(t).Params(spec, device, fixtureBuild())
	require.NoError(t, err)
	assert.Equal(t, 0, device.rowQueries)
	for _, p := range params {
		assert.NotEqual(t, ParamProperties, p.Name)
	}
}

func TestBuildErrors(t *testing.T) {
	builder := fixtureBuilder(t)

	t.Run("missing suite name", func(t *testing.T) {
		build := fixtureBuild()
		delete(build.attrs, AttrSuiteName)
		_, err := builder.Build(fixtureSpec(), fixtureDevice(), build)
		require.ErrorIs(t, err, ErrConfig)
		assert.True(t, IsConfigError(err))
	})

	t.Run("malformed url", func(t *testing.T) {
		for _, raw := range []string{"", "not a url", "ftp://host/x", "https:///path", "https://host/x?a=%zz", "https://host/x#top", "://bad"} {
			spec := fixtureSpec()
			spec.URL = raw
			_, err := builder.Build(spec, fixtureDevice(), fixtureBuild())
			assert.ErrorIs(t, err, ErrConfig, raw)
		}
	})

	t.Run("config missing", func(t *testing.T) {
		build := fixtureBuild()
		build.files = build.files[:1]
		_, err := builder.Build(fixtureSpec(), fixtureDevice(), build)
		require.ErrorIs(t, err, ErrConfigMissing)
	})

	t.Run("config file absent", func(t *testing.T) {
		b := NewBuilder()
		build := fixtureBuild()
		build.files = []VersionedFile{{Path: filepath.Join(t.TempDir(), "cts.dynamic"), Version: testConfigTag}}
		_, err := b.Build(fixtureSpec(), fixtureDevice(), build)
		require.ErrorIs(t, err, ErrConfigMissing)
	})

	t.Run("malformed config", func(t *testing.T) {
		b := fixtureBuilder(t)
		b.LoadConfig = func(string) (*dynconfig.Config, error) {
			return dynconfig.ParseBytes([]byte("<dynamicConfig><entry"))
		}
		_, err := b.Build(fixtureSpec(), fixtureDevice(), fixtureBuild())
		require.ErrorIs(t, err, ErrMalformedConfig)
		assert.True(t, IsConfigError(err))
	})

	t.Run("device failure", func(t *testing.T) {
		device := fixtureDevice()
		device.propErr = errors.New("adb offline")
		_, err := builder.Build(fixtureSpec(), device, fixtureBuild())
		require.Error(t, err)
		assert.False(t, IsConfigError(err))
	})
}

func TestDeviceInfoFailuresAreNotFatal(t *testing.T) {
	cases := map[string]func(b *Builder, build *fakeBuild){
		"dir attribute unset": func(b *Builder, build *fakeBuild) {
			delete(build.attrs, AttrDeviceInfoDir)
		},
		"loader error": func(b *Builder, build *fakeBuild) {
			b.LoadDeviceInfo = func(string) (DeviceInfoSource, error) {
				return nil, errors.New("permission denied")
			}
		},
		"no loader": func(b *Builder, build *fakeBuild) {
			b.LoadDeviceInfo = nil
		},
	}
	for name, mutate := range cases {
		t.Run(name, func(t *testing.T) {
			b := fixtureBuilder(t)
			build := fixtureBuild()
			mutate(b, build)
			got, err := b.Build(fixtureSpec(), fixtureDevice(), build)
			require.NoError(t, err)
			assert.NotContains(t, got, ParamDeviceInfo+"=")
			assert.Len(t, flatten(t, got), 15)
		})
	}
}

func TestBuildFromFiles(t *testing.T) {
	dir := t.TempDir()
	configPath := filepath.Join(dir, "cts.dynamic")
	require.NoError(t, os.WriteFile(configPath, []byte(`<dynamicConfig>
  <entry key="remote_config_required"><value>true</value></entry>
  <entry key="business_logic_device_features"><value>android.software.leanback</value></entry>
  <entry key="business_logic_device_properties"><value>ro.product.brand</value></entry>
  <entry key="business_logic_extended_device_info">
    <value>MemoryDeviceInfo:total_memory</value>
    <value>GenericDeviceInfo:build_serial</value>
    <value>MemoryDeviceInfo:low_ram_device</value>
  </entry>
</dynamicConfig>`), 0o644))
	infoDir := filepath.Join(dir, "device-info-files")
	require.NoError(t, os.MkdirAll(infoDir, 0o755))
	require.NoError(t, os.WriteFile(filepath.Join(infoDir, deviceinfo.FileName("MemoryDeviceInfo")),
		[]byte(`{"total_memory": 4096, "low_ram_device": true}`), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(infoDir, deviceinfo.FileName("GenericDeviceInfo")),
		[]byte(`{"build_serial": "unterminated`), 0o644))

	build := &fakeBuild{
		attrs: map[string]string{AttrSuiteName: "CTS", AttrDeviceInfoDir: infoDir},
		files: []VersionedFile{{Path: configPath, Version: testConfigTag}},
	}
	got, err := NewBuilder().Build(fixtureSpec(), fixtureDevice(), build)
	require.NoError(t, err)
	assert.ElementsMatch(t, []string{
		"key=fake-api-key",
		"oem=Google",
		"features=android.software.leanback",
		"properties=ro.product.brand:Google",
		"package=com.android.settings",
		"package=com.google.android.gms",
		"package=com.example.app",
		"device_info=MemoryDeviceInfo:total_memory:4096",
		"device_info=MemoryDeviceInfo:low_ram_device:true",
	}, flatten(t, got))
	assert.NotContains(t, got, "GenericDeviceInfo")
}

func TestBuildWithPartnerServiceURL(t *testing.T) {
	spec := NewRequestSpec(partnerServiceURL, "fakeApiKey", "CtsBusinessLogicTestCases")
	build := fixtureBuild()
	build.attrs[AttrSuiteName] = "cts"
	build.files = append(build.files, VersionedFile{Path: "/testcases/cts.dynamic", Version: DynamicConfigVersionPrefix + "cts"})

	got, err := fixtureBuilder(t).Build(spec, fixtureDevice(), build)
	require.NoError(t, err)

	prefix := "https://androidpartner.googleapis.com/v1/dynamicconfig/" +
		"suites/cts/modules/CtsBusinessLogicTestCases/version/14_r3?key=123&"
	require.True(t, strings.HasPrefix(got, prefix), got)

	request := strings.Split(strings.TrimPrefix(got, prefix), "&")
	assert.Len(t, request, 17)
	assert.Equal(t, "key=fakeApiKey", request[0])
	assert.Contains(t, request, "properties=search_client_id%3Ams-android-google")
	assert.Contains(t, request, "device_info=MemoryDeviceInfo%3Alow_ram_device%3Afalse")

	parsed, err := url.Parse(got)
	require.NoError(t, err)
	assert.Equal(t, []string{"123", "fakeApiKey"}, parsed.Query()["key"])

	req, err := fixtureBuilder(t).BuildRequest(spec, fixtureDevice(), build)
	require.NoError(t, err)
	assert.Equal(t, got, req.URL)
	assert.Len(t, req.Params, 16)
}

func TestEncode(t *testing.T) {
	got := Encode("https://h/p", "k&y", []Param{
		{Name: ParamProperties, Value: "a b:c/d"},
		{Name: ParamPackage, Value: "com.x"},
	})
	assert.Equal(t, "https://h/p?key=k%26y&properties=a+b%3Ac%2Fd&package=com.x", got)
	assert.Equal(t, "https://h/p?key=", Encode("https://h/p", "", nil))
	assert.Equal(t, "https://h/p?key=123&key=k&package=com.x",
		Encode("https://h/p?key=123", "k", []Param{{Name: ParamPackage, Value: "com.x"}}))
	assert.Equal(t, "https://h/p?key=k", Encode("https://h/p?", "k", nil))
}
