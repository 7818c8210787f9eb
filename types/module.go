package types

// Module is a node of the navigation tree. Branches group other modules;
// leaves open a processing screen.
type Module struct {
	// ID is the stable identifier used for routing and access checks.
	ID string `json:"id"`

	// Title is the label shown in the sidebar.
	Title string `json:"title"`

	// Icon is an optional icon name for the sidebar entry.
	Icon string `json:"icon,omitempty"`

	// Children holds nested modules. Empty for leaves.
	Children []Module `json:"children,omitempty"`
}

// IsLeaf reports whether the module has no children.
func (m Module) IsLeaf() bool {
	return len(m.Children) == 0
}
