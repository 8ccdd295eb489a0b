package options

import (
	"fmt"
	"os"

	"github.com/Masterminds/semver/v3"
	"gopkg.in/yaml.v2"
)

// FileVersion is the range of options-file format versions this build
// understands.
const FileVersion = "^1.0"

// LoadFile reads a YAML options file over base. The file must carry a
// version field satisfying FileVersion; every other key is an option name.
func LoadFile(path string, base Options) (Options, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return base, fmt.Errorf("options: %w", err)
	}
	return Decode(data, base)
}

// Decode applies YAML options data over base.
func Decode(data []byte, base Options) (Options, error) {
	raw := make(map[string]string)
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return base, fmt.Errorf("options: decode: %w", err)
	}

	v, ok := raw["version"]
	if !ok {
		return base, fmt.Errorf("options: missing version")
	}
	if err := checkVersion(v); err != nil {
		return base, err
	}
	delete(raw, "version")

	o := base
	for k, val := range raw {
		if err := o.Set(k, val); err != nil {
			return base, err
		}
	}
	if err := o.Validate(); err != nil {
		return base, err
	}
	return o, nil
}

func checkVersion(v string) error {
	c, err := semver.NewConstraint(FileVersion)
	if err != nil {
		return err
	}
	sv, err := semver.NewVersion(v)
	if err != nil {
		return fmt.Errorf("options: bad version %q: %w", v, err)
	}
	if !c.Check(sv) {
		return fmt.Errorf("options: file version %s does not satisfy %s", sv, FileVersion)
	}
	return nil
}
