// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.

// Package validate provides input validation for identifiers that flow
// into DNS record names, log store queries, and subprocess-adjacent
// provider APIs. Using these validators prevents malformed or hostile
// instance/DC identifiers from reaching a DNS UPSERT or a log query.
package validate

import (
	"fmt"
	"regexp"
	"strings"
)

// uidPattern matches instance and datacenter identifiers.
// Allows lowercase letters, digits, dots, and hyphens; 1-63 chars
// (DNS label length limit, since these feed hostname synthesis).
var uidPattern = regexp.MustCompile(`^[a-z0-9][a-z0-9.\-]{0,62}$`)

// InstanceUID validates an instance identifier.
func InstanceUID(uid string) error {
	if uid == "" {
		return fmt.Errorf("instance uid cannot be empty")
	}
	if !uidPattern.MatchString(uid) {
		return fmt.Errorf("invalid instance uid %q: must be 1-63 lowercase alphanumeric chars, dots, or hyphens", uid)
	}
	return nil
}

// DatacenterName validates a datacenter name used in hostname synthesis.
func DatacenterName(name string) error {
	if name == "" {
		return fmt.Errorf("datacenter name cannot be empty")
	}
	if !uidPattern.MatchString(name) {
		return fmt.Errorf("invalid datacenter name %q: must be 1-63 lowercase alphanumeric chars, dots, or hyphens", name)
	}
	return nil
}

// Sanitize normalizes an identifier (lowercase, trimmed) and validates it.
//
//	safe, err := validate.Sanitize(userInput, validate.InstanceUID)
func Sanitize(value string, validator func(string) error) (string, error) {
	normalized := strings.ToLower(strings.TrimSpace(value))
	if err := validator(normalized); err != nil {
		return "", err
	}
	return normalized, nil
}
