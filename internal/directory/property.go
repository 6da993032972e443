package directory

import "fmt"

// Property identifies a searchable directory attribute. The zero value
// PropertyNotSet is invalid in any attribute mapping.
type Property int

const (
	PropertyNotSet Property = iota
	PropertyObjectGUID
	PropertyAccountName
	PropertyUserPrincipalName
	PropertyMail
	PropertyDisplayName
	PropertyGivenName
	PropertySurname
	PropertyCommonName
	PropertyDepartment
	PropertyJobTitle
	PropertyDescription
	PropertyEmployeeID
	PropertyTelephone
	PropertyUserType
)

// propertyNames maps each property to its wire attribute name, which is
// also the name used in backend filter expressions.
var propertyNames = map[Property]string{
	PropertyObjectGUID:        "objectGUID",
	PropertyAccountName:       "sAMAccountName",
	PropertyUserPrincipalName: "userPrincipalName",
	PropertyMail:              "mail",
	PropertyDisplayName:       "displayName",
	PropertyGivenName:         "givenName",
	PropertySurname:           "sn",
	PropertyCommonName:        "cn",
	PropertyDepartment:        "department",
	PropertyJobTitle:          "title",
	PropertyDescription:       "description",
	PropertyEmployeeID:        "employeeID",
	PropertyTelephone:         "telephoneNumber",
	PropertyUserType:          "userType",
}

// String returns the wire attribute name for the property.
func (p Property) String() string {
	if name, ok := propertyNames[p]; ok {
		return name
	}
	return "notSet"
}

// ParseProperty resolves a wire attribute name back to a Property.
// Unknown names are a configuration error, reported at load time rather
// than at query time.
func ParseProperty(name string) (Property, error) {
	for p, n := range propertyNames {
		if n == name {
			return p, nil
		}
	}
	return PropertyNotSet, fmt.Errorf("unknown directory property %q", name)
}

// ValidFor reports whether the property can be read off objects of the
// given kind. Mappings referencing a property the kind does not carry
// are rejected when the mapping set is mutated.
func (p Property) ValidFor(kind ObjectKind) bool {
	switch kind {
	case KindUser:
		_, ok := userAccessors[p]
		return ok
	case KindGroup:
		_, ok := groupAccessors[p]
		return ok
	default:
		return false
	}
}
