package ldapdir

import (
	"strings"

	"github.com/go-ldap/ldap/v3"

	"github.com/isometry/directory-resolver/internal/directory"
)

// categorize wraps a raw LDAP failure in the backend error taxonomy so
// the executor can decide on retries.
func categorize(operation string, err error) error {
	if err == nil {
		return nil
	}

	if ldapErr, ok := err.(*ldap.Error); ok {
		return directory.NewError(operation,
			categoryForCode(ldapErr.ResultCode),
			codeRetryable(ldapErr.ResultCode),
			err)
	}
	return directory.NewError(operation, genericCategory(err), genericRetryable(err), err)
}

func categoryForCode(code uint16) directory.ErrorCategory {
	switch code {
	case ldap.LDAPResultInvalidCredentials,
		ldap.LDAPResultInappropriateAuthentication,
		ldap.LDAPResultStrongAuthRequired,
		ldap.LDAPResultInsufficientAccessRights:
		return directory.ErrorCategoryAuthentication

	case ldap.LDAPResultNoSuchObject,
		ldap.LDAPResultNoSuchAttribute,
		ldap.LDAPResultUndefinedAttributeType:
		return directory.ErrorCategoryNotFound

	case ldap.LDAPResultInvalidAttributeSyntax,
		ldap.LDAPResultConstraintViolation,
		ldap.LDAPResultFilterError,
		ldap.LDAPResultInvalidDNSyntax:
		return directory.ErrorCategoryValidation

	case ldap.LDAPResultBusy,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultAdminLimitExceeded:
		return directory.ErrorCategoryThrottling

	case ldap.LDAPResultServerDown,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultConnectError,
		ldap.LDAPResultProtocolError:
		return directory.ErrorCategoryConnection
	}
	return directory.ErrorCategoryUnknown
}

func codeRetryable(code uint16) bool {
	switch code {
	case ldap.LDAPResultBusy,
		ldap.LDAPResultUnavailable,
		ldap.LDAPResultServerDown,
		ldap.LDAPResultTimeLimitExceeded,
		ldap.LDAPResultConnectError:
		return true
	}
	return false
}

func genericCategory(err error) directory.ErrorCategory {
	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "connection"),
		strings.Contains(msg, "network"),
		strings.Contains(msg, "broken pipe"),
		strings.Contains(msg, "timeout"):
		return directory.ErrorCategoryConnection
	case strings.Contains(msg, "credentials"),
		strings.Contains(msg, "bind"):
		return directory.ErrorCategoryAuthentication
	}
	return directory.ErrorCategoryUnknown
}

func genericRetryable(err error) bool {
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "connection") ||
		strings.Contains(msg, "timeout") ||
		strings.Contains(msg, "network") ||
		strings.Contains(msg, "broken pipe") ||
		strings.Contains(msg, "connection reset")
}
