// Package smb dissects SMB1 and SMB2 traffic carried over NetBIOS-framed
// TCP (port 445/139): negotiate, tree-connect, and create commands,
// extracting share, filename and (from SMB2 Negotiate responses) dialect.
// The user, domain, host, OS and version fields are declared by Register,
// but no command parsed here writes them.
package smb

import (
	"encoding/binary"
	"errors"
	"unicode/utf16"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// ErrCorrupt is returned for malformed input.
var ErrCorrupt = errors.New("smb: corrupt message")

// Fields are the field-store position ids this dissector writes to.
type Fields struct {
	Domain  int
	User    int
	Host    int
	OS      int
	Version int
	Share   int
	Dialect int
	Filename int
}

// Register declares SMB fields on reg.
func Register(reg *field.Registry) Fields {
	return Fields{
		Domain:   reg.Define("smb.domain", field.KindString, field.ContainerUniqueArray, true),
		User:     reg.Define("smb.user", field.KindString, field.ContainerUniqueArray, true),
		Host:     reg.Define("smb.host", field.KindString, field.ContainerUniqueArray, true),
		OS:       reg.Define("smb.os", field.KindString, field.ContainerUniqueArray, true),
		Version:  reg.Define("smb.version", field.KindString, field.ContainerUniqueArray, true),
		Share:    reg.Define("smb.share", field.KindString, field.ContainerUniqueArray, true),
		Dialect:  reg.Define("smb.dialect", field.KindString, field.ContainerUniqueArray, true),
		Filename: reg.Define("smb.filename", field.KindString, field.ContainerUniqueArray, true),
	}
}

// NetBIOSLength reads the 4-byte session-service header preceding an SMB
// message: a 1-byte type plus a 24-bit big-endian length. Returns the
// message length and whether enough bytes are buffered to read it.
func NetBIOSLength(data []byte) (msgLen int, haveHeader bool) {
	if len(data) < 4 {
		return 0, false
	}
	msgLen = int(data[1])<<16 | int(data[2])<<8 | int(data[3])
	return msgLen, true
}

// utf16leToString decodes a UTF-16LE byte slice (as SMB uses for all
// UNICODE-flagged strings) to UTF-8.
func utf16leToString(b []byte) string {
	if len(b)%2 != 0 {
		b = b[:len(b)-1]
	}
	u16 := make([]uint16, len(b)/2)
	for i := range u16 {
		u16[i] = binary.LittleEndian.Uint16(b[i*2:])
	}
	// stop at the first NUL code unit, matching the C parser's
	// null-terminated string handling.
	for i, c := range u16 {
		if c == 0 {
			u16 = u16[:i]
			break
		}
	}
	return string(utf16.Decode(u16))
}

// smb2Command mirrors the MS-SMB2 command codes this dissector handles.
type smb2Command uint16

const (
	smb2Negotiate   smb2Command = 0
	smb2TreeConnect smb2Command = 3
	smb2Create      smb2Command = 5
)

// ParseSMB2 dissects a single SMB2 message (header starting at data[0],
// magic already validated by the caller's classifier).
func ParseSMB2(s *session.Session, fields Fields, data []byte) error {
	if len(data) < 64 {
		return ErrCorrupt
	}
	if data[0] != 0xFE || data[1] != 'S' || data[2] != 'M' || data[3] != 'B' {
		return ErrCorrupt
	}
	s.TagProtocol("smb")

	cmd := smb2Command(binary.LittleEndian.Uint16(data[12:14]))
	flags := binary.LittleEndian.Uint32(data[16:20])
	isResponse := flags&0x1 != 0 // SMB2_FLAGS_SERVER_TO_REDIR

	body := data[64:]

	switch cmd {
	case smb2Negotiate:
		if isResponse && len(body) >= 4 {
			dialect := binary.LittleEndian.Uint16(body[2:4])
			if dialect != 0 && dialect != 0x02FF {
				s.Fields.AddString(fields.Dialect, smb2DialectString(dialect))
			}
		}
	case smb2TreeConnect:
		if !isResponse && len(body) >= 8 {
			pathOffset := int(binary.LittleEndian.Uint16(body[4:6]))
			pathLen := int(binary.LittleEndian.Uint16(body[6:8]))
			if pathOffset+pathLen <= len(data) && pathOffset >= 64 {
				path := utf16leToString(data[pathOffset : pathOffset+pathLen])
				s.Fields.AddString(fields.Share, path)
			}
		}
	case smb2Create:
		if !isResponse && len(body) >= 46 {
			nameOffset := int(binary.LittleEndian.Uint16(body[44:46]))
			nameLen := int(binary.LittleEndian.Uint16(body[46:48]))
			if nameOffset+nameLen <= len(data) && nameOffset >= 64 {
				name := utf16leToString(data[nameOffset : nameOffset+nameLen])
				if name != "" {
					s.Fields.AddString(fields.Filename, name)
				}
			}
		}
	}
	return nil
}

func smb2DialectString(dialect uint16) string {
	major := (dialect >> 8) & 0xF
	minor := (dialect >> 4) & 0xF
	patch := dialect & 0xF
	digits := func(n uint16) byte { return byte('0' + n) }
	return string([]byte{'S', 'M', 'B', ' ', digits(major), '.', digits(minor), '.', digits(patch)})
}

// smb1Command mirrors the handful of SMB1 commands this dissector tracks.
type smb1Command uint8

const (
	smb1TreeConnectAndX smb1Command = 0x75
	smb1NegotiateReq    smb1Command = 0x72
)

const smb1FlagsReply = 0x80
const smb1Flags2Unicode = 0x8000

// ParseSMB1 dissects a single SMB1 message (32-byte header starting at
// data[0], magic already validated by the caller's classifier).
func ParseSMB1(s *session.Session, fields Fields, data []byte) error {
	if len(data) < 32 {
		return ErrCorrupt
	}
	if data[0] != 0xFF || data[1] != 'S' || data[2] != 'M' || data[3] != 'B' {
		return ErrCorrupt
	}
	s.TagProtocol("smb")

	cmd := smb1Command(data[4])
	flags := data[9]
	flags2 := binary.LittleEndian.Uint16(data[10:12])
	isResponse := flags&smb1FlagsReply != 0
	unicode := flags2&smb1Flags2Unicode != 0

	body := data[32:]
	if len(body) == 0 {
		return nil
	}
	wordCount := int(body[0])
	paramsLen := wordCount * 2
	if len(body) < 1+paramsLen+2 {
		return nil
	}
	byteCount := int(binary.LittleEndian.Uint16(body[1+paramsLen : 1+paramsLen+2]))
	buf := body[1+paramsLen+2:]
	if byteCount > len(buf) {
		byteCount = len(buf)
	}
	buf = buf[:byteCount]

	switch {
	case cmd == smb1TreeConnectAndX && !isResponse:
		// ANDX params carry offsets we don't need; the share path is a
		// null-terminated (ASCII or UTF-16LE) string somewhere in buf. We
		// conservatively take the last non-empty NUL-delimited field,
		// which for TREE_CONNECT_ANDX is the UNC path.
		if path := lastNulField(buf, unicode); path != "" {
			s.Fields.AddString(fields.Share, path)
		}
	case cmd == smb1NegotiateReq && !isResponse:
		// Dialect strings are a sequence of (0x02, nul-terminated ASCII)
		// entries. They are not recorded, and the SMB1 Negotiate
		// response's selected dialect index is not resolved, so nothing
		// is written here and smb.dialect is set only from SMB2.
	}
	return nil
}

func lastNulField(buf []byte, unicode bool) string {
	var fields [][]byte
	start := 0
	step := 1
	if unicode {
		step = 2
	}
	for i := 0; i+step <= len(buf); i += step {
		isNul := buf[i] == 0 && (!unicode || i+1 >= len(buf) || buf[i+1] == 0)
		if isNul {
			fields = append(fields, buf[start:i])
			start = i + step
		}
	}
	if len(fields) == 0 {
		return ""
	}
	last := fields[len(fields)-1]
	if unicode {
		return utf16leToString(last)
	}
	return string(last)
}