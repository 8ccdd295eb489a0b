package cli

import (
	"encoding/json"
	"fmt"
	"os"
	"runtime"

	"github.com/orizon-lang/gckit/internal/gclog"
	"github.com/orizon-lang/gckit/internal/options"
	"github.com/orizon-lang/gckit/internal/plan"
	"github.com/orizon-lang/gckit/internal/plan/gencopy"
	"github.com/orizon-lang/gckit/internal/plan/genms"
	"github.com/orizon-lang/gckit/internal/plan/nogc"
	"github.com/orizon-lang/gckit/internal/plan/refcount"
)

// Version information for all CLI tools
const (
	Version   = "0.1.0"
	BuildDate = "2026-10-14"
	CommitSHA = "unknown" // Will be set during build
)

// VersionInfo contains version and build information
type VersionInfo struct {
	Version   string   `json:"version"`
	BuildDate string   `json:"build_date"`
	CommitSHA string   `json:"commit_sha"`
	GoVersion string   `json:"go_version"`
	Platform  string   `json:"platform"`
	Arch      string   `json:"arch"`
	Plans     []string `json:"plans"`
}

// GetVersionInfo returns structured version information
func GetVersionInfo() *VersionInfo {
	return &VersionInfo{
		Version:   Version,
		BuildDate: BuildDate,
		CommitSHA: CommitSHA,
		GoVersion: runtime.Version(),
		Platform:  runtime.GOOS,
		Arch:      runtime.GOARCH,
		Plans:     Plans(),
	}
}

// PrintVersion prints version information in a consistent format
func PrintVersion(toolName string, jsonOutput bool) {
	info := GetVersionInfo()

	if jsonOutput {
		data, err := json.MarshalIndent(map[string]interface{}{
			"tool":         toolName,
			"version_info": info,
		}, "", "  ")
		if err == nil {
			fmt.Println(string(data))
			return
		}
		fmt.Fprintf(os.Stderr, "Error: Failed to marshal version info to JSON: %v\n", err)
	}

	fmt.Printf("%s v%s\n", toolName, info.Version)
	fmt.Printf("Build Date: %s\n", info.BuildDate)
	if info.CommitSHA != "unknown" && info.CommitSHA != "" {
		fmt.Printf("Commit: %s\n", info.CommitSHA)
	}
	fmt.Printf("Go Version: %s\n", info.GoVersion)
	fmt.Printf("Platform: %s/%s\n", info.Platform, info.Arch)
	fmt.Printf("Plans: %v\n", info.Plans)
}

// ExitWithError prints an error message and exits with code 1
func ExitWithError(format string, args ...interface{}) {
	fmt.Fprintf(os.Stderr, "Error: "+format+"\n", args...)
	os.Exit(1)
}

// ExitWithCode exits with the specified code and optional message
func ExitWithCode(code int, format string, args ...interface{}) {
	if format != "" {
		fmt.Fprintf(os.Stderr, format+"\n", args...)
	}
	os.Exit(code)
}

// Plans lists the plan names NewPlan accepts.
func Plans() []string {
	return []string{string(options.NoGC), string(options.GenCopy), string(options.GenMS), string(options.RC)}
}

// NewPlan creates the plan opts selects.
func NewPlan(opts options.Options, log *gclog.Logger) (plan.Plan, error) {
	switch opts.Plan {
	case options.NoGC:
		return nogc.New(opts, log)
	case options.GenCopy:
		return gencopy.New(opts, log)
	case options.GenMS:
		return genms.New(opts, log)
	case options.RC:
		return refcount.New(opts, log)
	}
	return nil, fmt.Errorf("unknown plan %q (want one of %v)", opts.Plan, Plans())
}

// LoadOptions builds options from an optional YAML file and then an
// options string, which takes precedence.
func LoadOptions(path, str string) (options.Options, error) {
	opts := options.Default()
	if path != "" {
		var err error
		if opts, err = options.LoadFile(path, opts); err != nil {
			return opts, fmt.Errorf("options file %s: %w", path, err)
		}
	}
	opts, err := options.ParseString(str, opts)
	if err != nil {
		return opts, fmt.Errorf("options %q: %w", str, err)
	}
	return opts, opts.Validate()
}
