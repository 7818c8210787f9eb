// Package access decides which processing modules a user may open.
package access

import (
	"strings"

	"github.com/taxdesk/portal/types"
)

// RequiredCategory derives the category guarding a module id from its
// prefix. Ids that match no rule are unguarded.
func RequiredCategory(moduleID string) (types.Category, bool) {
	switch {
	case strings.HasPrefix(moduleID, "tds"), moduleID == "26as_reco", moduleID == "fixed_assets":
		return types.CategoryDirectTax, true
	case strings.HasPrefix(moduleID, "gstr"):
		return types.CategoryIndirectTax, true
	default:
		return "", false
	}
}

// IsAllowed reports whether user may open moduleID. Admins bypass all
// restrictions; unguarded modules are open to everyone.
func IsAllowed(user types.User, moduleID string) bool {
	if user.IsAdmin() {
		return true
	}
	category, ok := RequiredCategory(moduleID)
	if !ok {
		return true
	}
	return !user.HasRestriction(category)
}

// Prompt is shown in place of a blocked module. It pre-fills an access
// request for the category guarding the module.
type Prompt struct {
	ModuleID     string         `json:"module_id"`
	Category     types.Category `json:"category"`
	CategoryName string         `json:"category_name"`
	Message      string         `json:"message"`
}

// PromptFor returns the access-request prompt for moduleID, or false when
// the module is unguarded.
func PromptFor(moduleID string) (Prompt, bool) {
	category, ok := RequiredCategory(moduleID)
	if !ok {
		return Prompt{}, false
	}
	name := category.DisplayName()
	return Prompt{
		ModuleID:     moduleID,
		Category:     category,
		CategoryName: name,
		Message:      "Requesting access to " + name + " modules.",
	}, true
}
