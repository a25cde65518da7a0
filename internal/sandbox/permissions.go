package sandbox

import (
	"os"
	"strings"

	"github.com/vinodismyname/xlcore/pkg/mcperr"
)

// PythonFilesystemPermission is the filesystem capability granted to one
// script run. FilesystemNone is the only level permitted outside the
// debug-build escape hatch.
type PythonFilesystemPermission string

const (
	FilesystemNone      PythonFilesystemPermission = "none"
	FilesystemReadOnly  PythonFilesystemPermission = "read_only"
	FilesystemReadWrite PythonFilesystemPermission = "read_write"
)

// PythonNetworkPermission is the network capability granted to one script
// run. NetworkNone is the only level permitted outside the debug-build
// escape hatch.
type PythonNetworkPermission string

const (
	NetworkNone         PythonNetworkPermission = "none"
	NetworkLoopback     PythonNetworkPermission = "loopback"
	NetworkUnrestricted PythonNetworkPermission = "unrestricted"
)

// Permissions is the capability grant attached to one script run.
type Permissions struct {
	Filesystem PythonFilesystemPermission `json:"filesystem"`
	Network    PythonNetworkPermission    `json:"network"`
}

// IsElevated reports whether p asks for anything beyond the default,
// fully-sandboxed grant.
func (p Permissions) IsElevated() bool {
	return p.Filesystem != FilesystemNone || p.Network != NetworkNone
}

// buildMode is stamped at link time via
// -ldflags "-X github.com/vinodismyname/xlcore/internal/sandbox.buildMode=release"
// (the same pattern pkg/version uses for the build string); it defaults to
// "dev" so local builds and tests retain the escape hatch.
var buildMode = "dev"

// SetBuildMode lets cmd/xlcore record its build mode when ldflags were not
// supplied (e.g. a `go run` during development).
func SetBuildMode(mode string) {
	if mode != "" {
		buildMode = mode
	}
}

// escalationEnvVar opts a local debug build into elevated script
// permissions. It has no effect once buildMode is "release".
const escalationEnvVar = "XLCORE_UNSAFE_PYTHON_PERMISSIONS"

const permissionEscalationMessage = "python permission escalation is not supported outside a debug build"

func unsafePermissionsEnabled() bool {
	if buildMode == "release" {
		return false
	}
	switch strings.TrimSpace(os.Getenv(escalationEnvVar)) {
	case "1", "true", "TRUE", "yes", "YES":
		return true
	default:
		return false
	}
}

// enforceEscalationPolicy rejects any permission grant beyond
// Filesystem/Network None unless the debug escape hatch is enabled; the
// subprocess boundary is not a hardened sandbox and release builds must
// never be able to widen it from caller-supplied input.
func enforceEscalationPolicy(p Permissions) error {
	if !p.IsElevated() || unsafePermissionsEnabled() {
		return nil
	}
	return mcperr.New(mcperr.PermissionDenied, "%s", permissionEscalationMessage)
}
