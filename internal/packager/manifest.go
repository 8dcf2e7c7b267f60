package packager

import (
	"encoding/xml"
	"fmt"
	"os"
	"path/filepath"

	"github.com/Masterminds/semver/v3"

	"github.com/Norgate-AV/xbuild/internal/workspace"
)

// ManifestName is the entry name of the manifest inside a package.
const ManifestName = "AndroidManifest.xml"

// Default SDK levels used when a project does not set them.
const (
	DefaultMinSDK    = 24
	DefaultTargetSDK = 34
)

const androidNS = "http://schemas.android.com/apk/res/android"

// VersionCode turns a semantic version into the monotonically increasing
// integer the platform compares: major*1,000,000 + minor*1,000 + patch.
func VersionCode(version string) (int, error) {
	v, err := semver.NewVersion(version)
	if err != nil {
		return 0, fmt.Errorf("invalid version %q: %w", version, err)
	}

	if v.Minor() > 999 || v.Patch() > 999 {
		return 0, fmt.Errorf("version %s: minor and patch must be below 1000", v)
	}

	code := v.Major()*1_000_000 + v.Minor()*1_000 + v.Patch()
	if code == 0 || code > 2_100_000_000 {
		return 0, fmt.Errorf("version %s: version code %d out of range", v, code)
	}

	return int(code), nil
}

type xmlManifest struct {
	XMLName     xml.Name       `xml:"manifest"`
	NS          string         `xml:"xmlns:android,attr"`
	Package     string         `xml:"package,attr"`
	VersionCode int            `xml:"android:versionCode,attr"`
	VersionName string         `xml:"android:versionName,attr"`
	UsesSDK     xmlUsesSDK     `xml:"uses-sdk"`
	Application xmlApplication `xml:"application"`
}

type xmlUsesSDK struct {
	Min    int `xml:"android:minSdkVersion,attr"`
	Target int `xml:"android:targetSdkVersion,attr"`
}

type xmlApplication struct {
	Label    string      `xml:"android:label,attr"`
	HasCode  bool        `xml:"android:hasCode,attr"`
	Activity xmlActivity `xml:"activity"`
}

type xmlActivity struct {
	Name     string          `xml:"android:name,attr"`
	Exported bool            `xml:"android:exported,attr"`
	MetaData xmlMetaData     `xml:"meta-data"`
	Filter   xmlIntentFilter `xml:"intent-filter"`
}

type xmlMetaData struct {
	Name  string `xml:"android:name,attr"`
	Value string `xml:"android:value,attr"`
}

type xmlIntentFilter struct {
	Action   xmlNamed `xml:"action"`
	Category xmlNamed `xml:"category"`
}

type xmlNamed struct {
	Name string `xml:"android:name,attr"`
}

// GenerateManifest renders a manifest for a native-activity application whose
// entry library is lib<name>.so.
func GenerateManifest(name string, opts *workspace.PackageOptions) ([]byte, error) {
	code, err := VersionCode(opts.Version)
	if err != nil {
		return nil, err
	}

	minSDK, targetSDK := opts.MinSDK, opts.TargetSDK
	if minSDK == 0 {
		minSDK = DefaultMinSDK
	}

	if targetSDK == 0 {
		targetSDK = max(DefaultTargetSDK, minSDK)
	}

	label := opts.Label
	if label == "" {
		label = name
	}

	m := xmlManifest{
		NS:          androidNS,
		Package:     opts.ID,
		VersionCode: code,
		VersionName: opts.Version,
		UsesSDK:     xmlUsesSDK{Min: minSDK, Target: targetSDK},
		Application: xmlApplication{
			Label:   label,
			HasCode: len(opts.Classes) > 0,
			Activity: xmlActivity{
				Name:     "android.app.NativeActivity",
				Exported: true,
				MetaData: xmlMetaData{Name: "android.app.lib_name", Value: name},
				Filter: xmlIntentFilter{
					Action:   xmlNamed{Name: "android.intent.action.MAIN"},
					Category: xmlNamed{Name: "android.intent.category.LAUNCHER"},
				},
			},
		},
	}

	out, err := xml.MarshalIndent(m, "", "    ")
	if err != nil {
		return nil, err
	}

	return append([]byte(xml.Header), append(out, '\n')...), nil
}

// writeManifest returns the manifest to feed the resource stage: the
// project's own file when it has one, otherwise a generated one in dir.
func writeManifest(dir, name string, opts *workspace.PackageOptions) (string, error) {
	if opts.Manifest != "" {
		return opts.Manifest, nil
	}

	data, err := GenerateManifest(name, opts)
	if err != nil {
		return "", err
	}

	path := filepath.Join(dir, ManifestName)
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return "", err
	}

	return path, nil
}
