// Package severity provides unified severity level definitions and mappings
// for review findings across all analysis engines.
package severity

import "strings"

// Level represents a severity level for review findings.
type Level string

const (
	// Critical - Immediate action required. Exploitable or data-destroying.
	Critical Level = "critical"

	// High - Serious issue that should be addressed urgently.
	High Level = "high"

	// Medium - Moderate risk, should be addressed in the normal cycle.
	Medium Level = "medium"

	// Low - Minor issue, address when convenient.
	Low Level = "low"

	// Info - Informational finding, no direct impact.
	Info Level = "info"
)

// AllLevels returns all severity levels in order of priority (highest first).
func AllLevels() []Level {
	return []Level{Critical, High, Medium, Low, Info}
}

// String returns the string representation of the severity level.
func (l Level) String() string {
	return string(l)
}

// Priority returns the numeric priority of the severity level.
// Higher numbers = higher priority.
func (l Level) Priority() int {
	switch l {
	case Critical:
		return 5
	case High:
		return 4
	case Medium:
		return 3
	case Low:
		return 2
	case Info:
		return 1
	default:
		return 0
	}
}

// IsHigherThan returns true if this severity is higher than the other.
func (l Level) IsHigherThan(other Level) bool {
	return l.Priority() > other.Priority()
}

// IsAtLeast returns true if this severity is at least as high as the other.
func (l Level) IsAtLeast(other Level) bool {
	return l.Priority() >= other.Priority()
}

// IsValid reports whether the level is one of the five known values.
func (l Level) IsValid() bool {
	return l.Priority() > 0
}

// FromString normalizes severity strings produced by the different engines.
// AI engines are inconsistent: "CRITICAL", "Error", "warning", "note" all
// appear in the wild. Unrecognized values degrade to Info rather than being
// dropped, so a finding never loses its place in the summary counts.
func FromString(s string) Level {
	switch strings.ToUpper(strings.TrimSpace(s)) {
	case "CRITICAL", "CRIT", "BLOCKER":
		return Critical
	case "HIGH", "ERROR", "SEVERE", "MAJOR":
		return High
	case "MEDIUM", "MODERATE", "WARNING", "WARN", "MED":
		return Medium
	case "LOW", "MINOR":
		return Low
	default:
		return Info
	}
}

// Compare returns:
//
//	-1 if a < b (a is lower severity)
//	 0 if a == b
//	+1 if a > b (a is higher severity)
func Compare(a, b Level) int {
	pa, pb := a.Priority(), b.Priority()
	switch {
	case pa < pb:
		return -1
	case pa > pb:
		return 1
	default:
		return 0
	}
}

// Max returns the higher severity of two levels.
func Max(a, b Level) Level {
	if a.IsHigherThan(b) {
		return a
	}
	return b
}

// Counts tallies findings by severity level.
type Counts struct {
	Critical int `json:"critical"`
	High     int `json:"high"`
	Medium   int `json:"medium"`
	Low      int `json:"low"`
	Info     int `json:"info"`
	Total    int `json:"totalFindings"`
}

// Increment increases the count for the given severity.
func (c *Counts) Increment(level Level) {
	c.Total++
	switch level {
	case Critical:
		c.Critical++
	case High:
		c.High++
	case Medium:
		c.Medium++
	case Low:
		c.Low++
	default:
		c.Info++
	}
}

// Highest returns the highest severity level that has a non-zero count.
// Returns Info when all counts are zero.
func (c *Counts) Highest() Level {
	switch {
	case c.Critical > 0:
		return Critical
	case c.High > 0:
		return High
	case c.Medium > 0:
		return Medium
	case c.Low > 0:
		return Low
	default:
		return Info
	}
}
