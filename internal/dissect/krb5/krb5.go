// Package krb5 dissects Kerberos v5 messages carried over UDP or TCP
// (ports 88/464 and friends): AS-REQ/AS-REP, TGS-REQ/TGS-REP and
// KRB-ERROR, extracting realm, client/server principal names and the
// offered encryption types from the DER-encoded ASN.1 body.
package krb5

import (
	"errors"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// ErrCorrupt is returned for malformed ASN.1 or an unrecognized
// top-level application tag.
var ErrCorrupt = errors.New("krb5: corrupt or unrecognized message")

// Application tag numbers, KRB5 message types (RFC 4120 §5.10).
const (
	msgASReq    = 10
	msgASRep    = 11
	msgTGSReq   = 12
	msgTGSRep   = 13
	msgKRBError = 30
)

// asn1 class bits, as encoded in the tag octet.
const (
	classUniversal   = 0
	classApplication = 1
	classContext     = 2
)

// encryption type names, RFC 3961/3962/8009.
var etypeNames = map[int]string{
	1: "des-cbc-crc", 2: "des-cbc-md4", 3: "des-cbc-md5",
	5: "des3-cbc-md5", 7: "des3-cbc-sha1", 16: "des3-cbc-sha1-kd",
	17: "aes128-cts-hmac-sha1-96", 18: "aes256-cts-hmac-sha1-96",
	19: "aes128-cts-hmac-sha256-128", 20: "aes256-cts-hmac-sha384-192",
	23: "rc4-hmac", 24: "rc4-hmac-exp",
	25: "camellia128-cts-cmac", 26: "camellia256-cts-cmac",
}

// error code names, RFC 4120 §7.5.9 (a representative subset).
var errorNames = map[int]string{
	0: "KDC_ERR_NONE", 1: "KDC_ERR_NAME_EXP", 2: "KDC_ERR_SERVICE_EXP",
	3: "KDC_ERR_BAD_PVNO", 6: "KDC_ERR_C_PRINCIPAL_UNKNOWN",
	7: "KDC_ERR_S_PRINCIPAL_UNKNOWN", 14: "KDC_ERR_ETYPE_NOSUPP",
	18: "KDC_ERR_CLIENT_REVOKED", 24: "KDC_ERR_PREAUTH_FAILED",
	25: "KDC_ERR_PREAUTH_REQUIRED", 37: "KRB_AP_ERR_SKEW",
	41: "KRB_AP_ERR_MODIFIED", 68: "KDC_ERR_WRONG_REALM",
}

// Fields are the field-store position ids this dissector writes to.
type Fields struct {
	Realm     int
	CName     int
	SName     int
	EType     int
	ErrorCode int
}

// Register declares Kerberos fields on reg.
func Register(reg *field.Registry) Fields {
	return Fields{
		Realm:     reg.Define("krb5.realm", field.KindString, field.ContainerUniqueArray, true),
		CName:     reg.Define("krb5.cname", field.KindString, field.ContainerUniqueArray, true),
		SName:     reg.Define("krb5.sname", field.KindString, field.ContainerUniqueArray, true),
		EType:     reg.Define("krb5.etype", field.KindString, field.ContainerUniqueArray, true),
		ErrorCode: reg.Define("krb5.errorCode", field.KindString, field.ContainerUniqueArray, true),
	}
}

// tlv is one decoded BER/DER tag-length-value triple.
type tlv struct {
	class       byte
	constructed bool
	tag         int
	value       []byte
}

// readTLV decodes a single TLV at the start of data, returning the
// decoded triple and the number of bytes it consumed. Only short-form
// tags (tag number < 31) and lengths that fit in 4 octets are
// supported, which covers every field this dissector inspects.
func readTLV(data []byte) (tlv, int, error) {
	if len(data) < 2 {
		return tlv{}, 0, ErrCorrupt
	}
	first := data[0]
	t := tlv{
		class:       (first >> 6) & 0x3,
		constructed: first&0x20 != 0,
		tag:         int(first & 0x1F),
	}
	if t.tag == 0x1F {
		return tlv{}, 0, ErrCorrupt // long-form tag, not used by krb5 fields we read
	}
	lenByte := data[1]
	pos := 2
	var length int
	if lenByte&0x80 == 0 {
		length = int(lenByte)
	} else {
		n := int(lenByte & 0x7F)
		if n == 0 || n > 4 || len(data) < pos+n {
			return tlv{}, 0, ErrCorrupt
		}
		for i := 0; i < n; i++ {
			length = length<<8 | int(data[pos+i])
		}
		pos += n
	}
	if length < 0 || len(data) < pos+length {
		return tlv{}, 0, ErrCorrupt
	}
	t.value = data[pos : pos+length]
	return t, pos + length, nil
}

// readAll decodes successive TLVs from data until it is exhausted.
func readAll(data []byte) ([]tlv, error) {
	var out []tlv
	for len(data) > 0 {
		t, n, err := readTLV(data)
		if err != nil {
			return nil, err
		}
		out = append(out, t)
		data = data[n:]
	}
	return out, nil
}

// explicitInner unwraps a single explicitly-tagged value, returning
// the one TLV nested inside it.
func explicitInner(outer tlv) (tlv, error) {
	inner, _, err := readTLV(outer.value)
	return inner, err
}

func berInt(v []byte) int {
	n := 0
	for _, b := range v {
		n = n<<8 | int(b)
	}
	return n
}

// Parse dissects a single Kerberos message: an application-tagged
// SEQUENCE whose elements are context-tagged per message type.
func Parse(s *session.Session, fields Fields, data []byte) error {
	top, _, err := readTLV(data)
	if err != nil {
		return ErrCorrupt
	}
	if top.class != classApplication {
		return ErrCorrupt
	}

	seq, _, err := readTLV(top.value)
	if err != nil || seq.class != classUniversal || seq.tag != 16 {
		return ErrCorrupt
	}
	elements, err := readAll(seq.value)
	if err != nil {
		return ErrCorrupt
	}

	switch top.tag {
	case msgASReq, msgTGSReq:
		parseReq(s, fields, elements)
	case msgASRep, msgTGSRep:
		s.TagProtocol("krb5")
	case msgKRBError:
		parseError(s, fields, elements)
	default:
		return ErrCorrupt
	}
	return nil
}

func byTag(elements []tlv, tag int) (tlv, bool) {
	for _, e := range elements {
		if e.class == classContext && e.tag == tag {
			return e, true
		}
	}
	return tlv{}, false
}

// parseReq handles AS-REQ/TGS-REQ: KDC-REQ ::= pvno[1] msg-type[2]
// padata[3] OPTIONAL req-body[4].
func parseReq(s *session.Session, fields Fields, elements []tlv) {
	s.TagProtocol("krb5")

	body, ok := byTag(elements, 4)
	if !ok {
		return
	}
	inner, err := explicitInner(body)
	if err != nil || inner.class != classUniversal || inner.tag != 16 {
		return
	}
	parseReqBody(s, fields, inner.value)
}

// parseReqBody handles KDC-REQ-BODY ::= kdc-options[0] cname[1]
// OPTIONAL realm[2] sname[3] OPTIONAL ... etype[8].
func parseReqBody(s *session.Session, fields Fields, data []byte) {
	elements, err := readAll(data)
	if err != nil {
		return
	}
	for _, e := range elements {
		switch e.tag {
		case 1:
			parsePrincipalName(s, fields.CName, e)
		case 2:
			addRealmString(s, fields.Realm, e)
		case 3:
			parsePrincipalName(s, fields.SName, e)
		case 8:
			parseEtypes(s, fields, e)
		}
	}
}

// parseError handles KRB-ERROR ::= ... error-code[6] crealm[7]
// OPTIONAL cname[8] OPTIONAL realm[9] sname[10].
func parseError(s *session.Session, fields Fields, elements []tlv) {
	s.TagProtocol("krb5")
	for _, e := range elements {
		switch e.tag {
		case 6:
			inner, err := explicitInner(e)
			if err != nil {
				continue
			}
			code := berInt(inner.value)
			if name, ok := errorNames[code]; ok {
				s.Fields.AddString(fields.ErrorCode, name)
			}
		case 7, 9:
			addRealmString(s, fields.Realm, e)
		case 8:
			parsePrincipalName(s, fields.CName, e)
		case 10:
			parsePrincipalName(s, fields.SName, e)
		}
	}
}

// addRealmString unwraps an explicitly-tagged GeneralString (Realm).
func addRealmString(s *session.Session, pos int, e tlv) {
	inner, err := explicitInner(e)
	if err != nil || len(inner.value) == 0 {
		return
	}
	s.Fields.AddString(pos, string(inner.value))
}

// parsePrincipalName unwraps PrincipalName ::= SEQUENCE { name-type[0]
// INTEGER, name-string[1] SEQUENCE OF GeneralString } and writes the
// components joined by "/", matching the existing wire convention for
// composite principal names such as "krbtgt/EXAMPLE.COM".
func parsePrincipalName(s *session.Session, pos int, e tlv) {
	inner, err := explicitInner(e)
	if err != nil || inner.class != classUniversal || inner.tag != 16 {
		return
	}
	elements, err := readAll(inner.value)
	if err != nil {
		return
	}
	nameString, ok := byTag(elements, 1)
	if !ok {
		return
	}
	seq, err := explicitInner(nameString)
	if err != nil || seq.class != classUniversal || seq.tag != 16 {
		return
	}
	parts, err := readAll(seq.value)
	if err != nil || len(parts) == 0 {
		return
	}

	out := string(parts[0].value)
	for _, p := range parts[1:] {
		out += "/" + string(p.value)
	}
	s.Fields.AddString(pos, out)
}

// parseEtypes unwraps etype[8] ::= SEQUENCE OF ENCTYPE.
func parseEtypes(s *session.Session, fields Fields, e tlv) {
	inner, err := explicitInner(e)
	if err != nil || inner.class != classUniversal || inner.tag != 16 {
		return
	}
	entries, err := readAll(inner.value)
	if err != nil {
		return
	}
	for _, et := range entries {
		v := berInt(et.value)
		if name, ok := etypeNames[v]; ok {
			s.Fields.AddString(fields.EType, name)
		}
	}
}

// ClassifyTCP implements the TCP classifier's heuristic for detecting
// a Kerberos message behind its 4-byte length prefix: the high two
// bytes of the length must be zero and byte 4 must be one of the five
// recognized application tags.
//
// Known limitation: this rejects legitimate Kerberos messages larger
// than 64 KiB, since such a message's length prefix would have a
// nonzero high byte. This mirrors the original heuristic verbatim
// rather than widening it, since widening it would require buffering
// arbitrarily large messages before classification can reject a
// false positive.
func ClassifyTCP(data []byte) bool {
	if len(data) < 5 || data[0] != 0 || data[1] != 0 {
		return false
	}
	switch data[4] {
	case 0x6a, 0x6b, 0x6c, 0x6d, 0x7e:
		return true
	default:
		return false
	}
}

// TCPMessage extracts one length-prefixed Kerberos message from a TCP
// stream buffer: a 4-byte big-endian length followed by that many
// bytes of ASN.1. It returns the message body and the total number of
// bytes consumed, or ok=false if the buffer does not yet hold a
// complete message.
func TCPMessage(buf []byte) (msg []byte, consumed int, ok bool) {
	if len(buf) < 4 {
		return nil, 0, false
	}
	length := int(buf[0])<<24 | int(buf[1])<<16 | int(buf[2])<<8 | int(buf[3])
	if len(buf) < length+4 {
		return nil, 0, false
	}
	return buf[4 : 4+length], length + 4, true
}

// ClassifyUDP reports whether data begins with a recognized KRB5
// request, reply or error application tag.
func ClassifyUDP(data []byte) bool {
	top, _, err := readTLV(data)
	if err != nil {
		return false
	}
	if top.class != classApplication {
		return false
	}
	switch top.tag {
	case msgASReq, msgASRep, msgTGSReq, msgTGSRep, msgKRBError:
		return true
	default:
		return false
	}
}
