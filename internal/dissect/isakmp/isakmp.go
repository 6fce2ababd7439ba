// Package isakmp dissects IKE (Internet Key Exchange) traffic, both IKEv1
// (RFC 2409) and IKEv2 (RFC 7296), sharing the same 28-byte ISAKMP header
// and port (500/4500). NAT-T traffic on 4500 is prefixed with a 4-byte
// all-zero non-ESP marker that must be skipped before the header starts.
package isakmp

import (
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/arkime-go/capture/internal/field"
	"github.com/arkime-go/capture/internal/session"
)

// Payload type numbers, shared prefix of IKEv1/IKEv2's next-payload field.
const (
	payloadSA        = 1
	payloadVendorID  = 13
	payloadSAv2      = 33
	payloadVendorIDv2 = 43
)

var ikev1ExchangeTypes = map[uint8]string{
	0: "none", 1: "base", 2: "identity-protection", 3: "authentication-only",
	4: "aggressive", 5: "informational", 32: "quick-mode", 33: "new-group-mode",
}

var ikev2ExchangeTypes = map[uint8]string{
	34: "ike-sa-init", 35: "ike-auth", 36: "create-child-sa", 37: "informational",
}

var encryptionAlgorithms = map[int]string{
	1: "des-cbc", 2: "idea-cbc", 3: "blowfish-cbc", 4: "rc5-r16-b64-cbc",
	5: "3des-cbc", 6: "cast-cbc", 7: "aes-cbc", 8: "camellia-cbc",
	12: "aes-ctr", 13: "aes-ccm-8", 14: "aes-ccm-12", 15: "aes-ccm-16",
	18: "aes-gcm-8", 19: "aes-gcm-12", 20: "aes-gcm-16", 23: "chacha20-poly1305",
}

var hashAlgorithms = map[int]string{
	1: "md5", 2: "sha1", 3: "tiger", 4: "sha2-256", 5: "sha2-384", 6: "sha2-512",
}

var prfAlgorithms = map[int]string{
	1: "prf-hmac-md5", 2: "prf-hmac-sha1", 3: "prf-hmac-tiger",
	4: "prf-aes128-xcbc", 5: "prf-hmac-sha2-256", 6: "prf-hmac-sha2-384",
	7: "prf-hmac-sha2-512",
}

var dhGroups = map[int]string{
	1: "modp768", 2: "modp1024", 5: "modp1536", 14: "modp2048", 15: "modp3072",
	16: "modp4096", 17: "modp6144", 18: "modp8192", 19: "ecp256", 20: "ecp384",
	21: "ecp521", 22: "modp1024s160", 23: "modp2048s224", 24: "modp2048s256",
	25: "ecp192", 26: "ecp224", 27: "brainpoolp224", 28: "brainpoolp256",
	29: "brainpoolp384", 30: "brainpoolp512", 31: "curve25519", 32: "curve448",
}

type vendorID struct {
	pattern []byte
	name    string
}

var knownVendors = []vendorID{
	{[]byte{0x4a, 0x13, 0x1c, 0x81, 0x07, 0x03, 0x58, 0x45}, "rfc3947-nat-t"},
	{[]byte{0x90, 0xcb, 0x80, 0x91, 0x3e, 0xbb, 0x69, 0x6e}, "draft-ietf-nat-t-02"},
	{[]byte{0xcd, 0x60, 0x46, 0x43, 0x35, 0xdf, 0x21, 0xf8}, "draft-ietf-nat-t-03"},
	{[]byte{0x7d, 0x94, 0x19, 0xa6, 0x53, 0x10, 0xca, 0x6f}, "draft-ietf-nat-t-rfc"},
	{[]byte{0xaf, 0xca, 0xd7, 0x13, 0x68, 0xa1, 0xf1, 0xc9}, "dpd"},
	{[]byte{0x12, 0xf5, 0xf2, 0x8c, 0x45, 0x71, 0x68, 0xa9}, "cisco-unity"},
	{[]byte{0x09, 0x00, 0x26, 0x89, 0xdf, 0xd6, 0xb7, 0x12}, "xauth"},
	{[]byte{0x1f, 0x07, 0xf7, 0x0e, 0xaa, 0x65, 0x14, 0xd3}, "cisco-concentrator"},
	{[]byte{0x40, 0x48, 0xb7, 0xd5, 0x6e, 0xbc, 0xe8, 0x85}, "ikev2"},
	{[]byte{0x4d, 0x53, 0x2d, 0x4d, 0x61, 0x6d, 0x69, 0x65}, "ms-ikev2"},
	{[]byte{0x1e, 0x2b, 0x51, 0x69, 0x05, 0x99, 0x1c, 0x7d}, "windows"},
	{[]byte{0x4f, 0x45, 0x2e, 0x48, 0x4a, 0x52, 0x41, 0x4e}, "fortigate"},
	{[]byte{0x16, 0x6f, 0x93, 0x2d, 0x55, 0xeb, 0x64, 0xd8}, "strongswan"},
	{[]byte{0x69, 0x93, 0x69, 0x22, 0x87, 0x41, 0xc6, 0xd4}, "openswan"},
	{[]byte{0x4f, 0x50, 0x45, 0x4e, 0x53, 0x77, 0x61, 0x6e}, "openswan2"},
	{[]byte{0xfb, 0xf4, 0x76, 0x14, 0x98, 0x40, 0x31, 0xfa}, "checkpoint"},
	{[]byte{0xf4, 0xed, 0x19, 0xe0, 0xc1, 0x14, 0xeb, 0x51}, "checkpoint-ng"},
}

func lookupVendor(data []byte) (string, bool) {
	for _, v := range knownVendors {
		if len(data) >= len(v.pattern) && string(data[:len(v.pattern)]) == string(v.pattern) {
			return v.name, true
		}
	}
	return "", false
}

// Fields are the field-store position ids this dissector writes to.
type Fields struct {
	InitiatorSPI int
	ResponderSPI int
	Version      int
	ExchangeType int
	VendorID     int
	Encryption   int
	Hash         int
	DHGroup      int
	AuthMethod   int
}

// Register declares ISAKMP/IKE fields on reg.
func Register(reg *field.Registry) Fields {
	return Fields{
		InitiatorSPI: reg.Define("isakmp.initiatorSpi", field.KindString, field.ContainerUniqueArray, true),
		ResponderSPI: reg.Define("isakmp.responderSpi", field.KindString, field.ContainerUniqueArray, true),
		Version:      reg.Define("isakmp.version", field.KindString, field.ContainerUniqueArray, true),
		ExchangeType: reg.Define("isakmp.exchangeType", field.KindString, field.ContainerUniqueArray, true),
		VendorID:     reg.Define("isakmp.vendorId", field.KindString, field.ContainerUniqueArray, true),
		Encryption:   reg.Define("isakmp.encryption", field.KindString, field.ContainerUniqueArray, true),
		Hash:         reg.Define("isakmp.hash", field.KindString, field.ContainerUniqueArray, true),
		DHGroup:      reg.Define("isakmp.dhGroup", field.KindString, field.ContainerUniqueArray, true),
		AuthMethod:   reg.Define("isakmp.authMethod", field.KindString, field.ContainerUniqueArray, true),
	}
}

// natTOffset returns 4 if data begins with the 4-byte all-zero non-ESP
// marker that precedes ISAKMP on NAT-T port 4500, else 0.
func natTOffset(port1, port2 uint16, data []byte) int {
	if port1 != 4500 && port2 != 4500 {
		return 0
	}
	if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 0 {
		return 4
	}
	return 0
}

// Classify reports whether data (after stripping any NAT-T marker) looks
// like a well-formed, unencrypted ISAKMP header, matching the classifier
// heuristic used to attach the Parse callback.
func Classify(port1, port2 uint16, data []byte) bool {
	offset := 0
	if port1 == 4500 || port2 == 4500 {
		if len(data) >= 4 && data[0] == 0 && data[1] == 0 && data[2] == 0 && data[3] == 0 {
			offset = 4
		} else {
			return false
		}
	}
	data = data[offset:]
	if len(data) < 28 {
		return false
	}

	major := data[17] >> 4
	if major != 1 && major != 2 {
		return false
	}

	exchangeType := data[18]
	if major == 1 {
		if exchangeType > 5 && exchangeType < 32 {
			return false
		}
		if exchangeType > 33 && exchangeType < 240 {
			return false
		}
	} else {
		if exchangeType < 34 || exchangeType > 37 {
			return false
		}
	}

	flags := data[19]
	if major == 1 {
		if flags&0xf8 != 0 {
			return false
		}
	} else {
		if flags&0xf7 != 0 {
			return false
		}
	}
	return true
}

// Parse dissects a single ISAKMP message on session, extracting SPIs,
// version, exchange type, and (when unencrypted) the SA proposal and
// vendor-ID payloads. port1/port2 are the session's recorded endpoint
// ports, needed to detect the NAT-T marker on port 4500.
func Parse(s *session.Session, fields Fields, port1, port2 uint16, data []byte) error {
	offset := natTOffset(port1, port2, data)
	data = data[offset:]
	if len(data) < 28 {
		return fmt.Errorf("isakmp: short header")
	}

	initiatorSPI := data[0:8]
	responderSPI := data[8:16]
	nextPayload := data[16]
	version := data[17]
	exchangeType := data[18]
	flags := data[19]

	major := int(version >> 4)
	minor := int(version & 0x0f)
	isV2 := major == 2

	s.TagProtocol("isakmp")
	s.Fields.AddString(fields.InitiatorSPI, hex.EncodeToString(initiatorSPI))
	if !allZero(responderSPI) {
		s.Fields.AddString(fields.ResponderSPI, hex.EncodeToString(responderSPI))
	}
	s.Fields.AddString(fields.Version, fmt.Sprintf("%d.%d", major, minor))

	var exchangeName string
	if isV2 {
		exchangeName = ikev2ExchangeTypes[exchangeType]
	} else {
		exchangeName = ikev1ExchangeTypes[exchangeType]
	}
	if exchangeName != "" {
		s.Fields.AddString(fields.ExchangeType, exchangeName)
	}

	encrypted := false
	if isV2 {
		encrypted = flags&0x08 != 0
	} else {
		encrypted = flags&0x01 != 0
	}
	if encrypted {
		return nil
	}

	body := data[28:]
	for nextPayload != 0 && len(body) >= 4 {
		current := nextPayload
		nextPayload = body[0]
		payloadLen := int(binary.BigEndian.Uint16(body[2:4]))
		if payloadLen < 4 || payloadLen-4 > len(body)-4 {
			break
		}
		payload := body[4:payloadLen]
		body = body[payloadLen:]

		switch current {
		case payloadSA:
			if !isV2 {
				parseSAv1(s, fields, payload)
			}
		case payloadSAv2:
			if isV2 {
				parseSAv2(s, fields, payload)
			}
		case payloadVendorID, payloadVendorIDv2:
			parseVendorID(s, fields, payload)
		}
	}
	return nil
}

func allZero(b []byte) bool {
	for _, c := range b {
		if c != 0 {
			return false
		}
	}
	return true
}

func parseVendorID(s *session.Session, fields Fields, data []byte) {
	if len(data) == 0 {
		return
	}
	if name, ok := lookupVendor(data); ok {
		s.Fields.AddString(fields.VendorID, name)
		return
	}
	n := len(data)
	if n > 16 {
		n = 16
	}
	s.Fields.AddString(fields.VendorID, hex.EncodeToString(data[:n]))
}

// parseSAv1 walks an IKEv1 SA payload: DOI(4) | Situation(4) | Proposals...
func parseSAv1(s *session.Session, fields Fields, data []byte) {
	if len(data) < 8 {
		return
	}
	doi := binary.BigEndian.Uint32(data[0:4])
	data = data[8:]
	if doi != 1 { // IPSEC DOI
		return
	}
	for len(data) >= 4 {
		nextPayload := data[0]
		proposalLen := int(binary.BigEndian.Uint16(data[2:4]))
		if proposalLen < 4 || proposalLen-4 > len(data)-4 {
			break
		}
		parseProposalV1(s, fields, data[4:proposalLen])
		data = data[proposalLen:]
		if nextPayload == 0 {
			break
		}
	}
}

// parseProposalV1 walks Proposal#(1) | ProtocolID(1) | SPISize(1) |
// NumTransforms(1) | SPI | Transforms...
func parseProposalV1(s *session.Session, fields Fields, data []byte) {
	if len(data) < 4 {
		return
	}
	spiSize := int(data[2])
	numTransforms := int(data[3])
	data = data[4:]
	if spiSize > len(data) {
		return
	}
	data = data[spiSize:]

	for i := 0; i < numTransforms && len(data) >= 4; i++ {
		transformLen := int(binary.BigEndian.Uint16(data[2:4]))
		if transformLen < 4 || transformLen-4 > len(data)-4 {
			break
		}
		parseTransformV1(s, fields, data[4:transformLen])
		data = data[transformLen:]
	}
}

// parseTransformV1 walks Transform#(1) | TransformID(1) | Reserved(2) |
// Attributes..., each attribute TV (2-byte value) or TLV.
func parseTransformV1(s *session.Session, fields Fields, data []byte) {
	if len(data) < 4 {
		return
	}
	data = data[4:]
	for len(data) >= 4 {
		attrType := binary.BigEndian.Uint16(data[0:2])
		af := attrType>>15&0x01 == 1
		typ := int(attrType & 0x7fff)
		data = data[2:]
		if af {
			if len(data) < 2 {
				return
			}
			value := int(binary.BigEndian.Uint16(data[0:2]))
			data = data[2:]
			switch typ {
			case 1:
				if name, ok := encryptionAlgorithms[value]; ok {
					s.Fields.AddString(fields.Encryption, name)
				}
			case 2:
				if name, ok := hashAlgorithms[value]; ok {
					s.Fields.AddString(fields.Hash, name)
				}
			case 3:
				if name, ok := authMethodNameV1(value); ok {
					s.Fields.AddString(fields.AuthMethod, name)
				}
			case 4:
				if name, ok := dhGroups[value]; ok {
					s.Fields.AddString(fields.DHGroup, name)
				}
			}
		} else {
			if len(data) < 2 {
				return
			}
			attrLen := int(binary.BigEndian.Uint16(data[0:2]))
			data = data[2:]
			if attrLen > len(data) {
				return
			}
			data = data[attrLen:]
		}
	}
}

func authMethodNameV1(value int) (string, bool) {
	switch value {
	case 1:
		return "psk", true
	case 2:
		return "dss-sig", true
	case 3:
		return "rsa-sig", true
	case 4, 5:
		return "rsa-enc", true
	case 64221:
		return "hybrid-rsa", true
	case 65001:
		return "xauth-psk", true
	case 65005:
		return "xauth-rsa", true
	default:
		return "", false
	}
}

// parseSAv2 walks an IKEv2 SA payload: a list of proposal substructures,
// each Last(1) | Reserved(1) | Length(2) | ...
func parseSAv2(s *session.Session, fields Fields, data []byte) {
	for len(data) >= 8 {
		last := data[0]
		proposalLen := int(binary.BigEndian.Uint16(data[2:4]))
		if proposalLen < 8 || proposalLen-4 > len(data)-4 {
			break
		}
		parseProposalV2(s, fields, data[4:proposalLen])
		data = data[proposalLen:]
		if last == 0 {
			break
		}
	}
}

// parseProposalV2 walks Proposal#(1) | ProtocolID(1) | SPISize(1) |
// NumTransforms(1) | SPI | Transforms...
func parseProposalV2(s *session.Session, fields Fields, data []byte) {
	if len(data) < 4 {
		return
	}
	spiSize := int(data[2])
	numTransforms := int(data[3])
	data = data[4:]
	if spiSize > len(data) {
		return
	}
	data = data[spiSize:]

	for i := 0; i < numTransforms && len(data) >= 8; i++ {
		transformLen := int(binary.BigEndian.Uint16(data[2:4]))
		if transformLen < 8 || transformLen-4 > len(data)-4 {
			break
		}
		parseTransformV2(s, fields, data[4:transformLen])
		data = data[transformLen:]
	}
}

// parseTransformV2 reads Last(1) Reserved(1) Length(2) Type(1) Reserved(1)
// ID(2).
func parseTransformV2(s *session.Session, fields Fields, data []byte) {
	if len(data) < 8 {
		return
	}
	transformType := data[4]
	transformID := int(binary.BigEndian.Uint16(data[6:8]))

	switch transformType {
	case 1: // ENCR
		if name, ok := encryptionAlgorithms[transformID]; ok {
			s.Fields.AddString(fields.Encryption, name)
		}
	case 2: // PRF
		if name, ok := prfAlgorithms[transformID]; ok {
			s.Fields.AddString(fields.Hash, name)
		}
	case 4: // DH
		if name, ok := dhGroups[transformID]; ok {
			s.Fields.AddString(fields.DHGroup, name)
		}
	}
}