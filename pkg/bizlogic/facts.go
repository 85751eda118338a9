package bizlogic

// Build attribute keys read from BuildFacts.
const (
	AttrSuiteName     = "SUITE_NAME"
	AttrSuiteVersion  = "SUITE_VERSION"
	AttrDeviceInfoDir = "device_info_dir"
)

// DynamicConfigVersionPrefix tags the versioned file that carries a suite's
// dynamic config; the full tag is prefix + suite name.
const DynamicConfigVersionPrefix = "DYNAMIC_CONFIG_FILE:"

// PropManufacturer is reported as the oem parameter.
const PropManufacturer = "ro.product.manufacturer"

// ContentRow is one row returned by a content provider query, keyed by column.
type ContentRow map[string]string

// DeviceFacts exposes the live facts of a device under test.
type DeviceFacts interface {
	// Property returns the system property value; ok is false when unset.
	Property(name string) (value string, ok bool, err error)
	Features() ([]string, error)
	InstalledPackages() ([]string, error)
	TotalMemory() (int64, error)
	QueryContentProvider(uri string) ([]ContentRow, error)
}

// VersionedFile is a build artifact path tagged with a version label.
type VersionedFile struct {
	Path    string `yaml:"path"`
	Version string `yaml:"version"`
}

// BuildFacts exposes the attributes and artifacts of the suite build.
type BuildFacts interface {
	Attribute(key string) (string, bool)
	VersionedFiles() []VersionedFile
}

// DeviceInfoSource answers field lookups against collected device-info files.
type DeviceInfoSource interface {
	Lookup(infoClass, field string) (string, bool)
}
