package adb

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/httprunner/bizlogic/pkg/bizlogic"
	"github.com/pkg/errors"
	"github.com/rs/zerolog/log"
)

// ShellRunner runs a shell command on a device; *gadb.Device implements it.
type ShellRunner interface {
	RunShellCommand(cmd string, args ...string) (string, error)
}

// Device implements bizlogic.DeviceFacts over adb shell commands.
type Device struct {
	serial string
	shell  ShellRunner

	propsOnce sync.Once
	props     map[string]string
	propsErr  error
}

var _ bizlogic.DeviceFacts = (*Device)(nil)

// NewDevice wraps a shell runner for the given serial.
func NewDevice(serial string, shell ShellRunner) *Device {
	return &Device{serial: serial, shell: shell}
}

// Serial returns the adb serial of the device.
func (d *Device) Serial() string {
	return d.serial
}

func (d *Device) run(cmd string, args ...string) (string, error) {
	output, err := d.shell.RunShellCommand(cmd, args...)
	if err != nil {
		return "", errors.Wrapf(err, "adb shell %s %s on %s", cmd, strings.Join(args, " "), d.serial)
	}
	return output, nil
}

// Properties returns every system property, read once with getprop.
func (d *Device) Properties() (map[string]string, error) {
	d.propsOnce.Do(func() {
		output, err := d.run("getprop")
		if err != nil {
			d.propsErr = err
			return
		}
		d.props = parseGetprop(output)
		log.Debug().Str("serial", d.serial).Int("count", len(d.props)).Msg("device properties loaded")
	})
	return d.props, d.propsErr
}

// Property implements bizlogic.DeviceFacts. Empty values count as unset.
func (d *Device) Property(name string) (string, bool, error) {
	props, err := d.Properties()
	if err != nil {
		return "", false, err
	}
	value, ok := props[name]
	if !ok || value == "" {
		return "", false, nil
	}
	return value, true, nil
}

// Features implements bizlogic.DeviceFacts.
func (d *Device) Features() ([]string, error) {
	output, err := d.run("pm", "list", "features")
	if err != nil {
		return nil, err
	}
	return parsePrefixedList(output, "feature:"), nil
}

// InstalledPackages implements bizlogic.DeviceFacts.
func (d *Device) InstalledPackages() ([]string, error) {
	output, err := d.run("pm", "list", "packages")
	if err != nil {
		return nil, err
	}
	return parsePrefixedList(output, "package:"), nil
}

// TotalMemory implements bizlogic.DeviceFacts, reporting MemTotal in bytes.
func (d *Device) TotalMemory() (int64, error) {
	output, err := d.run("cat", "/proc/meminfo")
	if err != nil {
		return 0, err
	}
	return parseMemTotal(output)
}

// QueryContentProvider implements bizlogic.DeviceFacts.
func (d *Device) QueryContentProvider(uri string) ([]bizlogic.ContentRow, error) {
	output, err := d.run("content", "query", "--uri", uri)
	if err != nil {
		return nil, err
	}
	return parseContentRows(output), nil
}

// parseGetprop reads lines of the form "[key]: [value]".
func parseGetprop(output string) map[string]string {
	props := make(map[string]string)
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, "[") {
			continue
		}
		key, rest, ok := strings.Cut(line[1:], "]: [")
		if !ok || !strings.HasSuffix(rest, "]") {
			continue
		}
		props[key] = strings.TrimSuffix(rest, "]")
	}
	return props
}

// parsePrefixedList reads pm list output; "feature:name=version" keeps name.
func parsePrefixedList(output, prefix string) []string {
	var items []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasPrefix(line, prefix) {
			continue
		}
		item := strings.TrimPrefix(line, prefix)
		if name, _, ok := strings.Cut(item, "="); ok {
			item = name
		}
		if item = strings.TrimSpace(item); item != "" {
			items = append(items, item)
		}
	}
	return items
}

func parseMemTotal(output string) (int64, error) {
	for _, line := range strings.Split(output, "\n") {
		fields := strings.Fields(line)
		if len(fields) < 2 || fields[0] != "MemTotal:" {
			continue
		}
		kb, err := strconv.ParseInt(fields[1], 10, 64)
		if err != nil {
			return 0, errors.Wrapf(err, "parse MemTotal %q", fields[1])
		}
		return kb * 1024, nil
	}
	return 0, errors.New("MemTotal not found in /proc/meminfo")
}

var (
	rowPrefix   = regexp.MustCompile(`^Row:\s*\d+\s+`)
	columnStart = regexp.MustCompile(`(?:^|, )([A-Za-z_][A-Za-z0-9_]*)=`)
)

// parseContentRows reads `content query` output:
//
//	Row: 0 _id=1, name=foo, value=a, b
//
// Values may contain ", " so columns are split at ", <ident>=".
func parseContentRows(output string) []bizlogic.ContentRow {
	var rows []bizlogic.ContentRow
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimRight(line, "\r")
		loc := rowPrefix.FindStringIndex(line)
		if loc == nil {
			continue
		}
		body := line[loc[1]:]
		matches := columnStart.FindAllStringSubmatchIndex(body, -1)
		row := make(bizlogic.ContentRow, len(matches))
		for i, m := range matches {
			key := body[m[2]:m[3]]
			end := len(body)
			if i+1 < len(matches) {
				end = matches[i+1][0]
			}
			value := body[m[1]:end]
			if value == "NULL" {
				value = ""
			}
			row[key] = value
		}
		rows = append(rows, row)
	}
	return rows
}
