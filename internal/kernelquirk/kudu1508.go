// Package kernelquirk preserves the KUDU-1508 carve-out: on some legacy
// host kernels, hole punching corrupts a file once it exceeds a
// per-filesystem-block-size threshold. The table below and the kernel
// release parser are domain-host-specific and are gated behind a
// capability probe so that on any kernel not known to be affected, they
// have no effect on the configured block limit.
package kernelquirk

import (
	"strconv"
	"strings"
	"syscall"
)

// perFSBlockSizeBlockLimits mirrors the table carried by the original
// source: a known-good upper bound on blocks-per-container for each
// observed filesystem block size, on kernels affected by KUDU-1508.
var perFSBlockSizeBlockLimits = map[int64]int64{
	1024:  3 * 1024 * 1024,
	2048:  3 * 1024 * 1024 / 2,
	4096:  1024 * 1024,
}

// LookupBlockLimit returns the safe upper bound on blocks-per-container for
// fsBlockSize, if the table has an entry for it. ok is false if fsBlockSize
// is not in the table, in which case no quirk-derived limit applies.
func LookupBlockLimit(fsBlockSize int64) (limit int64, ok bool) {
	limit, ok = perFSBlockSizeBlockLimits[fsBlockSize]
	return limit, ok
}

// affectedReleasePrefixes are the EL6-era kernel release strings known to
// be vulnerable. Matched as a prefix against `uname -r`.
var affectedReleasePrefixes = []string{
	"2.6.32-",
}

// ParseKernelRelease splits a `uname -r`-style string into its numeric
// major/minor/patch components, ignoring any vendor suffix. ok is false if
// release does not begin with a numeric major.minor pair; a missing or
// non-numeric patch component leaves patch at 0.
func ParseKernelRelease(release string) (major, minor, patch int, ok bool) {
	core := release
	if i := strings.IndexAny(release, "-+"); i >= 0 {
		core = release[:i]
	}
	parts := strings.SplitN(core, ".", 3)
	if len(parts) < 2 {
		return 0, 0, 0, false
	}
	var err error
	if major, err = strconv.Atoi(parts[0]); err != nil {
		return 0, 0, 0, false
	}
	if minor, err = strconv.Atoi(parts[1]); err != nil {
		return 0, 0, 0, false
	}
	if len(parts) == 3 {
		// Trailing non-numeric patch components (e.g. "504.el6") are
		// common; take the leading numeric run only.
		p := parts[2]
		end := 0
		for end < len(p) && p[end] >= '0' && p[end] <= '9' {
			end++
		}
		if end > 0 {
			patch, _ = strconv.Atoi(p[:end])
		}
	}
	return major, minor, patch, true
}

// IsBuggyEl6Kernel reports whether release is a known-affected EL6-era
// kernel.
func IsBuggyEl6Kernel(release string) bool {
	for _, prefix := range affectedReleasePrefixes {
		if strings.HasPrefix(release, prefix) {
			return true
		}
	}
	return false
}

// ProbeKernelQuirk reads the running kernel release via uname(2) once and
// reports whether the per-fs-block-size limit table should be consulted at
// all. The result is meant to be cached for the lifetime of the engine.
func ProbeKernelQuirk() bool {
	var uts syscall.Utsname
	if err := syscall.Uname(&uts); err != nil {
		return false
	}
	release := utsnameToString(uts.Release)
	return IsBuggyEl6Kernel(release)
}

func utsnameToString(a [65]int8) string {
	b := make([]byte, 0, len(a))
	for _, c := range a {
		if c == 0 {
			break
		}
		b = append(b, byte(c))
	}
	return string(b)
}
