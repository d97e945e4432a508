// Copyright (c) The Componentbus Authors
// SPDX-License-Identifier: MPL-2.0

package loader

import "runtime"

// platformSharedLibExtension is the host OS's shared-library file
// extension, used by LoadDirectory's by-extension recognition (spec §6):
// ".dll" on Windows, ".dylib" on Darwin, ".so" everywhere else.
func platformSharedLibExtension() string {
	switch runtime.GOOS {
	case "windows":
		return ".dll"
	case "darwin":
		return ".dylib"
	default:
		return ".so"
	}
}
