// Package icmp dissects ICMP echo request/reply messages, keyed on
// address pairs alone since ICMP has no port concept.
package icmp

import (
	"errors"
	"fmt"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// ErrCorrupt is returned when fewer than 2 bytes (type, code) are present.
var ErrCorrupt = errors.New("icmp: corrupt message")

// Fields are the field-store position ids this dissector writes to.
type Fields struct {
	Type int
	Code int
}

// Register declares ICMP fields on reg.
func Register(reg *field.Registry) Fields {
	return Fields{
		Type: reg.Define("icmp.type", field.KindString, field.ContainerUniqueArray, false),
		Code: reg.Define("icmp.code", field.KindString, field.ContainerUniqueArray, false),
	}
}

// Parse records the type and code from the first two payload bytes. Per
// spec §4.B, direction is derived by the caller comparing the packet's
// src/dst against the session's canonical addr1/addr2; this function only
// extracts fields.
func Parse(s *session.Session, fields Fields, data []byte) error {
	if len(data) < 2 {
		return ErrCorrupt
	}
	s.Fields.AddString(fields.Type, fmt.Sprintf("%d", data[0]))
	s.Fields.AddString(fields.Code, fmt.Sprintf("%d", data[1]))
	return nil
}