package venvbuild

import (
	"runtime"

	"github.com/gookit/color"
)

// Global variables
var (
	Debug      bool
	Verbose    bool
	ConfigFile string // resolved in Main; empty means the XDG default
	version    = "dev"   // default version; overridden at build time
	buildDate  = "unknown"
	arch       = runtime.GOARCH
)

// Fixed layout below the source root and the target environment.
const (
	thirdPartyDir   = "3rdparty"
	sitePackagesDir = "site-packages"
	stateDir        = ".venvbuild"
	defaultJobs     = 4
	defaultShell    = "/bin/sh"
	targetEnvVar    = "TARGET_ENV"
	sumsFileName    = "SUMS.b3"
	catalogFileName = "venvbuild.hcl"
)

// color helpers
var (
	colInfo    = color.Info
	colWarn    = color.Warn
	colError   = color.Error
	colSuccess = color.HEX("#1976D2")
	colArrow   = color.HEX("#FFEB3B")
	colNote    = color.Tag("notice")
)
