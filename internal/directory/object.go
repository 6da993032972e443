package directory

// ObjectKind distinguishes the two directory object kinds the engine
// resolves against.
type ObjectKind int

const (
	KindUser ObjectKind = iota
	KindGroup
)

// String returns a short name for the kind.
func (k ObjectKind) String() string {
	switch k {
	case KindUser:
		return "user"
	case KindGroup:
		return "group"
	default:
		return "unknown"
	}
}

// Subtype classifies a user object. The subtype decides which directory
// property holds the user's logical identity value.
type Subtype string

const (
	SubtypeMember Subtype = "Member"
	SubtypeGuest  Subtype = "Guest"
)

// Object is one raw directory entry, decoded into typed fields by the
// backend. Fields that do not apply to a kind are left zero.
type Object struct {
	Kind              ObjectKind
	GUID              string
	DistinguishedName string
	SID               string

	AccountName       string
	UserPrincipalName string
	Mail              string
	DisplayName       string
	GivenName         string
	Surname           string
	CommonName        string
	Department        string
	JobTitle          string
	Description       string
	EmployeeID        string
	Telephone         string

	// User classification.
	Subtype        Subtype
	AccountEnabled bool

	// Group classification.
	SecurityEnabled bool
}

// Accessor tables replace name-based attribute reflection: property
// lookup is a compile-time map per object kind, so a mapping that names
// a property the kind does not carry fails configuration validation
// instead of failing (or silently returning nothing) at query time.
var userAccessors = map[Property]func(*Object) string{
	PropertyObjectGUID:        func(o *Object) string { return o.GUID },
	PropertyAccountName:       func(o *Object) string { return o.AccountName },
	PropertyUserPrincipalName: func(o *Object) string { return o.UserPrincipalName },
	PropertyMail:              func(o *Object) string { return o.Mail },
	PropertyDisplayName:       func(o *Object) string { return o.DisplayName },
	PropertyGivenName:         func(o *Object) string { return o.GivenName },
	PropertySurname:           func(o *Object) string { return o.Surname },
	PropertyCommonName:        func(o *Object) string { return o.CommonName },
	PropertyDepartment:        func(o *Object) string { return o.Department },
	PropertyJobTitle:          func(o *Object) string { return o.JobTitle },
	PropertyDescription:       func(o *Object) string { return o.Description },
	PropertyEmployeeID:        func(o *Object) string { return o.EmployeeID },
	PropertyTelephone:         func(o *Object) string { return o.Telephone },
	PropertyUserType:          func(o *Object) string { return string(o.Subtype) },
}

var groupAccessors = map[Property]func(*Object) string{
	PropertyObjectGUID:  func(o *Object) string { return o.GUID },
	PropertyAccountName: func(o *Object) string { return o.AccountName },
	PropertyMail:        func(o *Object) string { return o.Mail },
	PropertyDisplayName: func(o *Object) string { return o.DisplayName },
	PropertyCommonName:  func(o *Object) string { return o.CommonName },
	PropertyDescription: func(o *Object) string { return o.Description },
}

// Value reads the named property off the object. Properties the
// object's kind does not carry yield the empty string; configuration
// validation makes that case unreachable for mapped properties.
func (o *Object) Value(p Property) string {
	var accessors map[Property]func(*Object) string
	switch o.Kind {
	case KindUser:
		accessors = userAccessors
	case KindGroup:
		accessors = groupAccessors
	default:
		return ""
	}
	if get, ok := accessors[p]; ok {
		return get(o)
	}
	return ""
}

// ClassificationAttributes is the fixed set of wire attributes selected
// on every query of a kind, independent of which mappings contributed
// filter clauses. They feed subtype and security-flag classification.
func ClassificationAttributes(kind ObjectKind) []string {
	switch kind {
	case KindUser:
		return []string{"objectGUID", "distinguishedName", "userType", "userAccountControl"}
	case KindGroup:
		return []string{"objectGUID", "distinguishedName", "groupType"}
	default:
		return nil
	}
}
