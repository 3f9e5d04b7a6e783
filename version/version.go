/*
 * Copyright (c) 2019 The aether developers.
 * See the LICENSE file for more information.
 */

package version

import "fmt"

// ApplicationVersion represents the application version.
var ApplicationVersion = NewVersion(0, 4, 0)

// SemanticVersion represents a semantic version value.
type SemanticVersion struct {
	major uint
	minor uint
	patch uint
}

// NewVersion initializes a new SemanticVersion instance.
func NewVersion(major, minor, patch uint) *SemanticVersion {
	return &SemanticVersion{
		major: major,
		minor: minor,
		patch: patch,
	}
}

// Major returns version major value.
func (v *SemanticVersion) Major() uint { return v.major }

// Minor returns version minor value.
func (v *SemanticVersion) Minor() uint { return v.minor }

// Patch returns version patch value.
func (v *SemanticVersion) Patch() uint { return v.patch }

// String returns a readable representation of the version.
func (v *SemanticVersion) String() string {
	return fmt.Sprintf("v%d.%d.%d", v.major, v.minor, v.patch)
}

// IsEqual returns true if both versions are equivalent.
func (v *SemanticVersion) IsEqual(v2 *SemanticVersion) bool {
	if v == v2 {
		return true
	}
	return v.major == v2.major && v.minor == v2.minor && v.patch == v2.patch
}

// IsGreater returns true if v is greater than v2.
func (v *SemanticVersion) IsGreater(v2 *SemanticVersion) bool {
	if v == v2 {
		return false
	}
	if v.major > v2.major {
		return true
	} else if v.major < v2.major {
		return false
	}
	if v.minor > v2.minor {
		return true
	} else if v.minor < v2.minor {
		return false
	}
	return v.patch > v2.patch
}

// IsGreaterOrEqual returns true if v is greater than or equal to v2.
func (v *SemanticVersion) IsGreaterOrEqual(v2 *SemanticVersion) bool {
	return v.IsGreater(v2) || v.IsEqual(v2)
}

// IsLess returns true if v is less than v2.
func (v *SemanticVersion) IsLess(v2 *SemanticVersion) bool {
	return !v.IsGreaterOrEqual(v2)
}

// IsLessOrEqual returns true if v is less than or equal to v2.
func (v *SemanticVersion) IsLessOrEqual(v2 *SemanticVersion) bool {
	return v.IsLess(v2) || v.IsEqual(v2)
}
