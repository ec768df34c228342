package middleware

import (
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
)

// ErrInvalidParam is wrapped by every validation error here.
var ErrInvalidParam = errors.New("invalid parameter")

var (
	agentIDPattern  = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,64}$`)
	policyIDPattern = regexp.MustCompile(`^[a-zA-Z0-9_.-]{1,100}$`)
)

// ValidateAgentID checks the agent id format.
func ValidateAgentID(id string) error {
	if !agentIDPattern.MatchString(id) {
		return fmt.Errorf("%w: agent id %q", ErrInvalidParam, id)
	}
	return nil
}

// ValidatePolicyID checks the SCA policy id format.
func ValidatePolicyID(id string) error {
	if !policyIDPattern.MatchString(id) {
		return fmt.Errorf("%w: policy id %q", ErrInvalidParam, id)
	}
	return nil
}

// ParseCheckID parses a positive integer check id.
func ParseCheckID(raw string) (int, error) {
	id, err := strconv.Atoi(raw)
	if err != nil || id < 0 {
		return 0, fmt.Errorf("%w: check id %q", ErrInvalidParam, raw)
	}
	return id, nil
}

// ParseInt parses an optional integer query value; empty gives def.
func ParseInt(name, raw string, def int) (int, error) {
	if raw == "" {
		return def, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, fmt.Errorf("%w: %s must be an integer", ErrInvalidParam, name)
	}
	return n, nil
}

// ParseBool accepts true/false/1/0/yes/no; empty is false.
func ParseBool(raw string) bool {
	switch strings.ToLower(strings.TrimSpace(raw)) {
	case "1", "true", "yes", "y":
		return true
	}
	return false
}

// SanitizeString removes dangerous characters from strings
func SanitizeString(input string) string {
	input = strings.ReplaceAll(input, "\x00", "")

	var result strings.Builder
	for _, r := range input {
		if r >= 32 || r == '\t' || r == '\n' {
			result.WriteRune(r)
		}
	}
	return strings.TrimSpace(result.String())
}
