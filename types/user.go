package types

// Role is the authorization level of an account.
type Role string

const (
	RoleAdmin Role = "admin"
	RoleUser  Role = "user"
)

// UserStatus reports whether an account may sign in.
type UserStatus string

const (
	StatusActive     UserStatus = "Active"
	StatusRestricted UserStatus = "Restricted"
)

// Category groups processing modules for access control.
type Category string

const (
	CategoryDirectTax   Category = "direct_tax"
	CategoryIndirectTax Category = "indirect_tax"
)

// DisplayName returns the human-readable name of the category.
func (c Category) DisplayName() string {
	switch c {
	case CategoryDirectTax:
		return "Direct Tax"
	case CategoryIndirectTax:
		return "Indirect Tax"
	default:
		return string(c)
	}
}

// Valid reports whether c is a known category.
func (c Category) Valid() bool {
	return c == CategoryDirectTax || c == CategoryIndirectTax
}

// User represents an account as stored by the processing service.
// The portal treats the record as the unit of exchange: roster writes
// send the whole list back, so every field must round-trip unchanged.
type User struct {
	// ID is the unique identifier of the user. The environment master
	// admin reported by the service uses ID 0.
	ID int64 `json:"id"`

	// Username is the unique login name.
	Username string `json:"username"`

	// Password is opaque to the portal. It is carried so that full-list
	// roster writes do not wipe credentials, and is stripped by Redacted
	// before anything is returned to a browser.
	Password string `json:"password,omitempty"`

	// Name is the display name.
	Name string `json:"name"`

	// Role indicates the user's authorization level ("admin" or "user").
	Role Role `json:"role"`

	// Status is "Active" or "Restricted". Restricted accounts cannot sign in.
	Status UserStatus `json:"status"`

	// RestrictedModules lists the categories the user may not open.
	// Ignored for admins.
	RestrictedModules []Category `json:"restrictedModules"`
}

// IsAdmin reports whether the user has the admin role.
func (u User) IsAdmin() bool {
	return u.Role == RoleAdmin
}

// HasRestriction reports whether category c is in the user's restricted list.
func (u User) HasRestriction(c Category) bool {
	for _, r := range u.RestrictedModules {
		if r == c {
			return true
		}
	}
	return false
}

// Redacted returns a copy of the user without the password.
func (u User) Redacted() User {
	u.Password = ""
	if u.RestrictedModules == nil {
		u.RestrictedModules = []Category{}
	}
	return u
}
