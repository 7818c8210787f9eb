// Package navigation holds the static module hierarchy and per-session
// expansion state of the sidebar.
package navigation

import (
	"errors"

	"github.com/taxdesk/portal/internal/access"
	"github.com/taxdesk/portal/types"
)

// ErrNotBranch is returned when toggling an id that has no children.
var ErrNotBranch = errors.New("not a branch")

// ErrUnknownModule is returned for ids absent from the tree.
var ErrUnknownModule = errors.New("unknown module")

var defaultTree = []types.Module{
	{
		ID: "direct_tax", Title: "Direct Tax", Icon: "landmark",
		Children: []types.Module{
			{
				ID: "tds", Title: "TDS", Icon: "receipt",
				Children: []types.Module{
					{ID: "tds_odoo", Title: "TDS Odoo"},
					{ID: "tds_zoho", Title: "TDS Zoho"},
					{ID: "tds_challan", Title: "TDS Challan Update"},
				},
			},
			{ID: "26as_reco", Title: "26AS Reconciliation", Icon: "scale"},
			{ID: "fixed_assets", Title: "Fixed Asset Register", Icon: "building"},
		},
	},
	{
		ID: "indirect_tax", Title: "Indirect Tax", Icon: "percent",
		Children: []types.Module{
			{
				ID: "gstr1", Title: "GSTR-1", Icon: "file-output",
				Children: []types.Module{
					{ID: "gstr1_odoo", Title: "GSTR-1 Odoo"},
					{ID: "gstr1_zoho", Title: "GSTR-1 Zoho"},
				},
			},
			{
				ID: "gstr2b", Title: "GSTR-2B", Icon: "file-input",
				Children: []types.Module{
					{ID: "gstr2b_odoo", Title: "GSTR-2B Odoo"},
					{ID: "gstr2b_zoho", Title: "GSTR-2B Zoho"},
					{ID: "gstr2b_reco_odoo", Title: "GSTR-2B Reco (Odoo)"},
					{ID: "gstr2b_reco_zoho", Title: "GSTR-2B Reco (Zoho)"},
				},
			},
		},
	},
	{ID: "compliances", Title: "Compliances", Icon: "clipboard-check"},
}

// Tree returns a copy of the module hierarchy.
func Tree() []types.Module {
	return cloneModules(defaultTree)
}

func cloneModules(in []types.Module) []types.Module {
	if in == nil {
		return nil
	}
	out := make([]types.Module, len(in))
	for i, m := range in {
		out[i] = m
		out[i].Children = cloneModules(m.Children)
	}
	return out
}

// Find looks up a module anywhere in the tree.
func Find(id string) (types.Module, bool) {
	var walk func([]types.Module) (types.Module, bool)
	walk = func(mods []types.Module) (types.Module, bool) {
		for _, m := range mods {
			if m.ID == id {
				return m, true
			}
			if found, ok := walk(m.Children); ok {
				return found, true
			}
		}
		return types.Module{}, false
	}
	found, ok := walk(defaultTree)
	if !ok {
		return types.Module{}, false
	}
	return cloneModules([]types.Module{found})[0], true
}

// Leaves returns the ids of every selectable module in tree order.
func Leaves() []string {
	var ids []string
	var walk func([]types.Module)
	walk = func(mods []types.Module) {
		for _, m := range mods {
			if m.IsLeaf() {
				ids = append(ids, m.ID)
				continue
			}
			walk(m.Children)
		}
	}
	walk(defaultTree)
	return ids
}

// Node is one visible sidebar row.
type Node struct {
	ID       string         `json:"id"`
	Title    string         `json:"title"`
	Icon     string         `json:"icon,omitempty"`
	Depth    int            `json:"depth"`
	Leaf     bool           `json:"leaf"`
	Expanded bool           `json:"expanded"`
	Allowed  bool           `json:"allowed"`
	Category types.Category `json:"category,omitempty"`
}

// Render flattens the tree into visible rows for user. Children of a
// collapsed branch are omitted. Locked rows stay visible with Allowed unset.
func Render(user types.User, exp *Expansion) []Node {
	var nodes []Node
	var walk func([]types.Module, int)
	walk = func(mods []types.Module, depth int) {
		for _, m := range mods {
			category, _ := access.RequiredCategory(m.ID)
			expanded := !m.IsLeaf() && exp.IsExpanded(m.ID)
			nodes = append(nodes, Node{
				ID:       m.ID,
				Title:    m.Title,
				Icon:     m.Icon,
				Depth:    depth,
				Leaf:     m.IsLeaf(),
				Expanded: expanded,
				Allowed:  access.IsAllowed(user, m.ID),
				Category: category,
			})
			if expanded {
				walk(m.Children, depth+1)
			}
		}
	}
	walk(defaultTree, 0)
	return nodes
}

// Select invokes onSelect for an allowed leaf and reports whether it did.
// Branches, unknown ids and locked leaves are ignored.
func Select(user types.User, id string, onSelect func(types.Module)) bool {
	m, ok := Find(id)
	if !ok || !m.IsLeaf() || !access.IsAllowed(user, id) {
		return false
	}
	onSelect(m)
	return true
}
