package directory

import (
	"fmt"
	"strings"
	"unicode/utf8"

	"github.com/go-ldap/ldap/v3"

	"github.com/totegamma/examwatch/internal/domain"
)

const (
	AttrMail        = "mail"
	AttrDisplayName = "displayName"

	DefaultClassAttribute = "physicalDeliveryOfficeName"
)

func ExactEmailFilter(email string) string {
	return fmt.Sprintf("(%s=%s)", AttrMail, ldap.EscapeFilter(domain.NormalizeEmail(email)))
}

func PrefixEmailFilter(prefix string) string {
	return fmt.Sprintf("(%s=%s*)", AttrMail, ldap.EscapeFilter(domain.NormalizeEmail(prefix)))
}

// firstValue returns the first value of a possibly multi-valued attribute as text.
func firstValue(entry *ldap.Entry, name string) string {
	for _, attr := range entry.Attributes {
		if !strings.EqualFold(attr.Name, name) {
			continue
		}
		if len(attr.ByteValues) > 0 {
			return decodeText(attr.ByteValues[0])
		}
		if len(attr.Values) > 0 {
			return attr.Values[0]
		}
	}
	return ""
}

// decodeText reads UTF-8, falling back to latin-1 for legacy entries.
func decodeText(raw []byte) string {
	if utf8.Valid(raw) {
		return string(raw)
	}
	runes := make([]rune, len(raw))
	for i, b := range raw {
		runes[i] = rune(b)
	}
	return string(runes)
}

func toDirectoryUser(entry *ldap.Entry, classAttribute string) (domain.DirectoryUser, bool) {
	mail := domain.NormalizeEmail(firstValue(entry, AttrMail))
	if mail == "" {
		return domain.DirectoryUser{}, false
	}

	name := strings.TrimSpace(firstValue(entry, AttrDisplayName))
	if name == "" {
		name = mail
	}

	klasse := strings.TrimSpace(firstValue(entry, classAttribute))
	if klasse == "" {
		klasse = domain.KlasseNone
	}

	return domain.DirectoryUser{
		Email:       mail,
		DisplayName: name,
		Klasse:      klasse,
	}, true
}

func mapEntries(entries []*ldap.Entry, classAttribute string) []domain.DirectoryUser {
	users := make([]domain.DirectoryUser, 0, len(entries))
	for _, entry := range entries {
		user, ok := toDirectoryUser(entry, classAttribute)
		if !ok {
			continue
		}
		users = append(users, user)
	}
	return users
}
