// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation checks names that end up on a subprocess command line.
//
// Package names come from a language model and are handed to pip as a
// positional argument. Anything that pip would read as an option, a URL or a
// path is rejected here, so a bad answer can only ever fail to install.
package validation

import (
	"fmt"
	"regexp"
	"strings"
)

// packagePattern matches a distribution name with optional extras and one
// optional version clause.
// Allows: PyYAML, scikit-learn, rich[jupyter], urwid==2.6.0, textual>=0.50
var packagePattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9._\-]*(\[[A-Za-z0-9._,\-]+\])?([=<>!~]=?[A-Za-z0-9.*+!\-]+)?$`)

// modulePattern matches a dotted Python import path.
var modulePattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)*$`)

// maxPackageLen bounds a requirement; real ones are far shorter.
const maxPackageLen = 128

// ValidatePackage validates a pip requirement before it is passed to pip.
//
// Valid requirements:
//   - start with a letter or digit, so never an option like --index-url
//   - contain no path separators, colons or whitespace
//   - are at most 128 characters
//
// Example:
//
//	if err := validation.ValidatePackage(pkg); err != nil {
//	    return fmt.Errorf("refusing to install: %w", err)
//	}
//	// Safe to pass as pip's positional argument
func ValidatePackage(pkg string) error {
	if pkg == "" {
		return fmt.Errorf("package name cannot be empty")
	}
	if len(pkg) > maxPackageLen {
		return fmt.Errorf("package name too long: %d characters (max %d)", len(pkg), maxPackageLen)
	}
	if !packagePattern.MatchString(pkg) {
		return fmt.Errorf("invalid package name: %q (must be a distribution name with optional extras and version)", pkg)
	}
	return nil
}

// ValidateModule validates a Python import path such as "yaml" or
// "google.protobuf".
func ValidateModule(module string) error {
	if module == "" {
		return fmt.Errorf("module name cannot be empty")
	}
	if !modulePattern.MatchString(module) {
		return fmt.Errorf("invalid module name: %q", module)
	}
	return nil
}

// SanitizePackage trims and validates a requirement.
//
//	pkg, err := validation.SanitizePackage("  rich\n")
//	// pkg == "rich"
func SanitizePackage(pkg string) (string, error) {
	trimmed := strings.TrimSpace(pkg)
	if err := ValidatePackage(trimmed); err != nil {
		return "", err
	}
	return trimmed, nil
}
