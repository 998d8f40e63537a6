package csu

import (
	"regexp"
	"strconv"
	"strings"
)

// StatusGrammarVersion identifies the set of CSUSTAT messages ParseStatus
// understands.  Increment it when a message is added or changed
const StatusGrammarVersion = 1

// CreatingGroup is the CSUSTAT value while a setup is being computed
const CreatingGroup = "Creating Group."

// StatusKind classifies a CSUSTAT message
type StatusKind int

const (
	// StatusOther is any message not otherwise recognized
	StatusOther StatusKind = iota

	// StatusCreatingGroup means a setup is in progress
	StatusCreatingGroup

	// StatusCollision means a setup was aborted; Row is set
	StatusCollision

	// StatusSetupComplete means a setup finished and may be executed
	StatusSetupComplete
)

func (k StatusKind) String() string {
	names := [...]string{"other", "creating group", "collision", "setup complete"}
	if k < 0 || int(k) >= len(names) {
		return "other"
	}
	return names[k]
}

// Status is a parsed CSUSTAT message
type Status struct {
	Kind StatusKind `json:"kind"`
	Row  int        `json:"row,omitempty"`
	Raw  string     `json:"raw"`
}

var (
	// the controller emits two spaces after the period; tolerate any run
	collisionRE = regexp.MustCompile(`Setup aborted\.\s+Collision detected at row (\d+)`)
	completeRE  = regexp.MustCompile(`(?i)^setup\s+complete`)
)

// ParseStatus interprets a CSUSTAT message
func ParseStatus(raw string) Status {
	s := strings.TrimSpace(raw)
	st := Status{Raw: raw}
	switch {
	case s == CreatingGroup:
		st.Kind = StatusCreatingGroup
	case collisionRE.MatchString(s):
		st.Kind = StatusCollision
		st.Row, _ = strconv.Atoi(collisionRE.FindStringSubmatch(s)[1])
	case completeRE.MatchString(s):
		st.Kind = StatusSetupComplete
	}
	return st
}
