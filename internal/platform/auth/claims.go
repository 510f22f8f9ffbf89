package auth

import (
	"strings"

	firebaseauth "firebase.google.com/go/v4/auth"
)

// ClaimNames lists the custom claims read from a Firebase ID token. Staff accounts get "role" and
// "stores" from the back office when they are assigned to a store.
type ClaimNames struct {
	Role   string
	Stores string
	Locale string
}

// DefaultClaimNames returns the claim names issued by the back office.
func DefaultClaimNames() ClaimNames {
	return ClaimNames{Role: "role", Stores: "stores", Locale: "locale"}
}

func (c ClaimNames) merge(override ClaimNames) ClaimNames {
	if v := strings.TrimSpace(override.Role); v != "" {
		c.Role = v
	}
	if v := strings.TrimSpace(override.Stores); v != "" {
		c.Stores = v
	}
	if v := strings.TrimSpace(override.Locale); v != "" {
		c.Locale = v
	}
	return c
}

// identityFromToken maps a verified token onto an Identity. Tokens without a role claim are
// customers.
func identityFromToken(token *firebaseauth.Token, names ClaimNames, fallbackRole string) (*Identity, error) {
	if token == nil || strings.TrimSpace(token.UID) == "" {
		return nil, ErrTokenInvalid
	}
	claims := token.Claims
	identity := &Identity{
		UID:      token.UID,
		Email:    claimString(claims, "email"),
		Name:     claimString(claims, "name"),
		Locale:   claimString(claims, names.Locale),
		Roles:    claimValues(claims, names.Role, normaliseRole),
		StoreIDs: claimValues(claims, names.Stores, strings.TrimSpace),
		token:    token,
	}
	if len(identity.Roles) == 0 && fallbackRole != "" {
		identity.Roles = []string{fallbackRole}
	}
	return identity, nil
}

// claimValues accepts a comma separated string, a list or a map of boolean flags and returns the
// unique non-empty values.
func claimValues(claims map[string]interface{}, key string, normalise func(string) string) []string {
	var raw []string
	switch v := claims[key].(type) {
	case string:
		raw = strings.Split(v, ",")
	case []string:
		raw = v
	case []interface{}:
		for _, item := range v {
			if s, ok := item.(string); ok {
				raw = append(raw, s)
			}
		}
	case map[string]interface{}:
		for name, flag := range v {
			if on, _ := flag.(bool); on {
				raw = append(raw, name)
			}
		}
	}

	var out []string
	seen := make(map[string]bool, len(raw))
	for _, item := range raw {
		value := normalise(item)
		if value == "" || seen[value] {
			continue
		}
		seen[value] = true
		out = append(out, value)
	}
	return out
}

func claimString(claims map[string]interface{}, key string) string {
	s, _ := claims[key].(string)
	return strings.TrimSpace(s)
}

func normaliseRole(role string) string {
	return strings.ToLower(strings.TrimSpace(role))
}
