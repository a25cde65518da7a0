// Package config collects default runtime limits and guardrails for the
// workbook engine. These values are conservative and can be overridden by
// callers (env, CLI, or host-supplied config); they are referenced by
// cmd/xlcore, internal/runtime, internal/registry, internal/sandbox,
// internal/validate, and internal/workbookio.
package config

import "time"

const (
	// Concurrency.
	DefaultMaxConcurrentRequests = 10
	DefaultMaxOpenWorkbooks      = 4
	DefaultRecalcWorkers         = 8

	// Payload and row limits.
	DefaultMaxPayloadBytes = 128 * 1024 // 128KB
	DefaultMaxCellsPerOp   = 10_000
	DefaultPreviewRowLimit = 10

	// DirtyMarkLimit bounds mark_dirty's BFS before it falls back to a
	// full-recalc promotion (every formula cell marked dirty).
	DirtyMarkLimit = 65_536

	// MaxRangeDim bounds a single axis (rows or columns) accepted from a
	// scripted range payload.
	MaxRangeDim = 1_048_576
	// MaxRangeCellsPerCall bounds the total cell count a single scripted
	// range operation may touch.
	MaxRangeCellsPerCall = 1_000_000
)

const (
	// Timeouts.
	DefaultOperationTimeout      = 30 * time.Second
	DefaultAcquireRequestTimeout = 2 * time.Second
	DefaultWorkbookIdleTTL       = 15 * time.Minute
	DefaultWorkbookCleanupPeriod = time.Minute
	// DefaultSandboxTimeout is the guard duration for the Python scripting
	// subprocess; a value of 0 disables the guard entirely.
	DefaultSandboxTimeout = 10 * time.Second
)

const (
	// DefaultSandboxMaxMemoryBytes is advertised to the scripting subprocess
	// in the execute frame; enforcement of the limit is the subprocess
	// runtime's responsibility, not the host's.
	DefaultSandboxMaxMemoryBytes = 256 * 1024 * 1024
	// MaxScriptCodeBytes bounds the size of a script source string accepted
	// by a single sandbox run.
	MaxScriptCodeBytes = 1_000_000
)

// StandardEncryptionSpinCount is the fixed Standard (CryptoAPI) password
// hash iteration count. Agile descriptors carry their own spinCount, and a
// descriptor without one is rejected rather than given this value;
// internal/offcrypto keeps its own copy of the constant.
const StandardEncryptionSpinCount = 50_000

// EncryptedPackageSegmentLen is the plaintext segment size used by both the
// Standard AES and Agile EncryptedPackage stream layouts.
const EncryptedPackageSegmentLen = 0x1000

// EncryptedPackageRC4BlockLen is the plaintext segment size used by the
// legacy Standard (CryptoAPI) RC4 EncryptedPackage stream layout.
const EncryptedPackageRC4BlockLen = 0x200
