package models

import (
	"fmt"
	"strings"
)

// Mode is the transport mode of an edge.
type Mode string

const (
	ModeTrain Mode = "train"
	ModeTram  Mode = "tram"
	ModeBus   Mode = "bus"
)

// Modes lists the recognised modes in display order.
var Modes = []Mode{ModeTrain, ModeTram, ModeBus}

// ParseMode accepts a mode name, case-insensitively.
func ParseMode(s string) (Mode, error) {
	m := Mode(strings.ToLower(strings.TrimSpace(s)))
	if !m.Valid() {
		return "", fmt.Errorf("unknown transport mode %q", s)
	}
	return m, nil
}

// Valid reports whether m is one of Modes.
func (m Mode) Valid() bool {
	switch m {
	case ModeTrain, ModeTram, ModeBus:
		return true
	}
	return false
}

func (m Mode) String() string {
	return string(m)
}
