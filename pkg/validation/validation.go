// Copyright (C) 2025 Aleutian AI (jinterlante@aleutian.ai)
// This program is free software: you can redistribute it and/or modify
// it under the terms of the GNU Affero General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
// See the LICENSE.txt file for the full license text.
//
// NOTE: This work is subject to additional terms under AGPL v3 Section 7.
// See the NOTICE.txt file for details regarding AI system attribution.

// Package validation provides the shared struct validator used for
// configuration inputs.
//
// Configuration structs declare their constraints with `validate` tags
// (go-playground/validator). Field names in error messages follow the
// struct's yaml tags so they match what users write in config files.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"
)

// ErrInvalid is wrapped by every error returned from Struct.
var ErrInvalid = errors.New("validation failed")

// ReservedCatName is the pseudo-cat used for unvalidated item exposure.
const ReservedCatName = "unvalidated"

// catNamePattern allows printable names without surrounding whitespace.
// Max length: 64 characters.
var catNamePattern = regexp.MustCompile(`^[^\s\x00-\x1f](?:[^\x00-\x1f]{0,62}[^\s\x00-\x1f])?$`)

// validate is the shared validator instance.
// Initialized in init() with custom validators.
var validate *validator.Validate

func init() {
	validate = validator.New(validator.WithRequiredStructEnabled())

	validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("yaml"), ",", 2)[0]
		if name == "-" || name == "" {
			return fld.Name
		}
		return name
	})

	_ = validate.RegisterValidation("catname", func(fl validator.FieldLevel) bool {
		return ValidateCatName(fl.Field().String()) == nil
	})
}

// Struct validates s against its `validate` tags.
//
// Returns nil when s is valid, otherwise an error wrapping ErrInvalid that
// lists every failing field.
func Struct(s any) error {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %s", ErrInvalid, Describe(err))
}

// Describe renders validator errors as "field: rule" pairs.
func Describe(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		rule := fe.Tag()
		if fe.Param() != "" {
			rule += "=" + fe.Param()
		}
		parts = append(parts, fmt.Sprintf("%s failed %q (value %v)", trimRoot(fe.Namespace()), rule, fe.Value()))
	}
	return strings.Join(parts, "; ")
}

// trimRoot drops the struct type prefix from a validator namespace.
func trimRoot(ns string) string {
	if i := strings.Index(ns, "."); i >= 0 {
		return ns[i+1:]
	}
	return ns
}

// ValidateCatName checks a user-supplied cat name.
//
// Valid names:
//   - 1-64 characters
//   - no leading or trailing whitespace
//   - no control characters
//   - not the reserved name "unvalidated"
func ValidateCatName(name string) error {
	if name == "" {
		return fmt.Errorf("cat name cannot be empty")
	}
	if !catNamePattern.MatchString(name) {
		return fmt.Errorf("invalid cat name %q (must be 1-64 printable chars without surrounding whitespace)", name)
	}
	if name == ReservedCatName {
		return fmt.Errorf("cat name %q is reserved", name)
	}
	return nil
}

// ValidateCatNames validates multiple cat names.
// Returns an error listing all invalid names if any fail validation.
func ValidateCatNames(names []string) error {
	var invalid []string
	for _, n := range names {
		if err := ValidateCatName(n); err != nil {
			invalid = append(invalid, n)
		}
	}
	if len(invalid) > 0 {
		return fmt.Errorf("invalid cat names: %q", invalid)
	}
	return nil
}
