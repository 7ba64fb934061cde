package models

import (
	"errors"
	"strings"
)

// ErrInvalidSkill is returned when a skill is constructed from empty or
// whitespace-only text. Skill validation is local and never reaches the
// network.
var ErrInvalidSkill = errors.New("invalid skill: empty or whitespace text")

// Skill is a short phrase naming a learnable capability. It is the retrieval
// query unit: each skill is embedded and matched against the learning-outcome
// corpus independently. A Skill is never empty; construct one through NewSkill.
type Skill string

// NewSkill naturalizes free text or LLM output into a Skill. The text is
// trimmed; empty results fail with ErrInvalidSkill.
func NewSkill(text string) (Skill, error) {
	trimmed := strings.TrimSpace(text)
	if trimmed == "" {
		return "", ErrInvalidSkill
	}
	return Skill(trimmed), nil
}

// NewSkills converts a list of raw strings into Skills, failing on the first
// invalid entry. Duplicate skills are collapsed, preserving first-seen order.
func NewSkills(texts []string) ([]Skill, error) {
	skills := make([]Skill, 0, len(texts))
	seen := make(map[Skill]bool, len(texts))
	for _, text := range texts {
		skill, err := NewSkill(text)
		if err != nil {
			return nil, err
		}
		if seen[skill] {
			continue
		}
		seen[skill] = true
		skills = append(skills, skill)
	}
	return skills, nil
}

// String returns the skill text.
func (s Skill) String() string {
	return string(s)
}
