package models

import (
	"fmt"
	"strings"
)

// Source identifies where a catalog and its documents come from.
type Source int

const (
	SourceLocal Source = iota
	SourceCloud
	SourceMember
)

// Sources lists every source in tab order.
var Sources = []Source{SourceLocal, SourceCloud, SourceMember}

func (s Source) String() string {
	switch s {
	case SourceLocal:
		return "local"
	case SourceCloud:
		return "cloud"
	case SourceMember:
		return "member"
	default:
		return fmt.Sprintf("source(%d)", int(s))
	}
}

// ParseSource parses a source name. "remote" is accepted for cloud and "user"
// for member.
func ParseSource(s string) (Source, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "local", "":
		return SourceLocal, nil
	case "cloud", "remote":
		return SourceCloud, nil
	case "member", "user":
		return SourceMember, nil
	default:
		return SourceLocal, fmt.Errorf("unknown source %q", s)
	}
}

// MarshalText implements encoding.TextMarshaler.
func (s Source) MarshalText() ([]byte, error) {
	return []byte(s.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler.
func (s *Source) UnmarshalText(b []byte) error {
	v, err := ParseSource(string(b))
	if err != nil {
		return err
	}
	*s = v
	return nil
}
