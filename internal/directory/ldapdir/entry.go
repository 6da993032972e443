package ldapdir

import (
	"encoding/hex"
	"fmt"
	"strconv"

	"github.com/bwmarrin/go-objectsid"
	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/directory-resolver/internal/directory"
)

// Account and group classification bits.
const (
	uacAccountDisabled = 0x00000002
	groupTypeSecurity  = 0x80000000
	guidBytesLength    = 16
)

// entryToObject decodes one LDAP entry into a typed object.
func entryToObject(entry *ldap.Entry, kind directory.ObjectKind) directory.Object {
	obj := directory.Object{
		Kind:              kind,
		DistinguishedName: entry.DN,
		AccountName:       entry.GetAttributeValue("sAMAccountName"),
		Mail:              entry.GetAttributeValue("mail"),
		DisplayName:       entry.GetAttributeValue("displayName"),
		CommonName:        entry.GetAttributeValue("cn"),
		Description:       entry.GetAttributeValue("description"),
	}
	if obj.DistinguishedName == "" {
		obj.DistinguishedName = entry.GetAttributeValue("distinguishedName")
	}

	if raw := entry.GetRawAttributeValue("objectGUID"); len(raw) > 0 {
		if guid, err := guidBytesToString(raw); err == nil {
			obj.GUID = guid
		}
	}
	if obj.GUID == "" {
		// Plain directories (and test fixtures) return the GUID as text.
		obj.GUID = entry.GetAttributeValue("objectGUID")
	}

	if raw := entry.GetRawAttributeValue("objectSid"); len(raw) > 0 {
		obj.SID = objectsid.Decode(raw).String()
	}

	switch kind {
	case directory.KindUser:
		obj.UserPrincipalName = entry.GetAttributeValue("userPrincipalName")
		obj.GivenName = entry.GetAttributeValue("givenName")
		obj.Surname = entry.GetAttributeValue("sn")
		obj.Department = entry.GetAttributeValue("department")
		obj.JobTitle = entry.GetAttributeValue("title")
		obj.EmployeeID = entry.GetAttributeValue("employeeID")
		obj.Telephone = entry.GetAttributeValue("telephoneNumber")
		obj.Subtype = subtypeOf(entry)
		obj.AccountEnabled = accountEnabled(entry)
	case directory.KindGroup:
		obj.SecurityEnabled = securityEnabled(entry)
	}

	return obj
}

// subtypeOf classifies the user. Entries with no userType attribute are
// plain directory accounts, which are members.
func subtypeOf(entry *ldap.Entry) directory.Subtype {
	if entry.GetAttributeValue("userType") == string(directory.SubtypeGuest) {
		return directory.SubtypeGuest
	}
	return directory.SubtypeMember
}

func accountEnabled(entry *ldap.Entry) bool {
	uac := entry.GetAttributeValue("userAccountControl")
	if uac == "" {
		return true
	}
	flags, err := strconv.ParseInt(uac, 10, 64)
	if err != nil {
		return true
	}
	return flags&uacAccountDisabled == 0
}

func securityEnabled(entry *ldap.Entry) bool {
	gt := entry.GetAttributeValue("groupType")
	if gt == "" {
		return false
	}
	// groupType is a signed 32-bit value; the security bit is the sign bit.
	flags, err := strconv.ParseInt(gt, 10, 64)
	if err != nil {
		return false
	}
	return uint32(flags)&groupTypeSecurity != 0
}

// guidBytesToString renders the directory's mixed-endian GUID bytes in
// standard hyphenated form: the first three fields are stored
// little-endian, the rest big-endian.
func guidBytesToString(raw []byte) (string, error) {
	if len(raw) != guidBytesLength {
		return "", fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidBytesLength, len(raw))
	}

	std := make([]byte, guidBytesLength)
	std[0], std[1], std[2], std[3] = raw[3], raw[2], raw[1], raw[0]
	std[4], std[5] = raw[5], raw[4]
	std[6], std[7] = raw[7], raw[6]
	copy(std[8:], raw[8:])

	h := hex.EncodeToString(std)
	return fmt.Sprintf("%s-%s-%s-%s-%s", h[0:8], h[8:12], h[12:16], h[16:20], h[20:32]), nil
}

// guidStringToBytes converts a hyphenated GUID string into the
// directory's mixed-endian byte form, used to rewrite GUID equality
// predicates into the binary comparison the server requires.
func guidStringToBytes(guid string) ([]byte, error) {
	stripped := make([]byte, 0, 32)
	for i := 0; i < len(guid); i++ {
		if guid[i] != '-' {
			stripped = append(stripped, guid[i])
		}
	}
	std, err := hex.DecodeString(string(stripped))
	if err != nil {
		return nil, fmt.Errorf("invalid GUID %q: %w", guid, err)
	}
	if len(std) != guidBytesLength {
		return nil, fmt.Errorf("invalid GUID byte length: expected %d, got %d", guidBytesLength, len(std))
	}

	raw := make([]byte, guidBytesLength)
	raw[0], raw[1], raw[2], raw[3] = std[3], std[2], std[1], std[0]
	raw[4], raw[5] = std[5], std[4]
	raw[6], raw[7] = std[7], std[6]
	copy(raw[8:], std[8:])
	return raw, nil
}
