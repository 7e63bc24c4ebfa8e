package types

import "go.uber.org/zap"

// Role distinguishes the coordinating node from the rest of the cluster
type Role string

const (
	RolePrimary   Role = "primary"
	RoleSecondary Role = "secondary"
)

// Valid reports whether r is a known role
func (r Role) Valid() bool {
	return r == RolePrimary || r == RoleSecondary
}

// Node is a single cluster member. Nodes are immutable for the duration of a run.
type Node struct {
	Hostname string `json:"hostname" yaml:"hostname"`
	IP       string `json:"ip,omitempty" yaml:"ip,omitempty"`
	User     string `json:"user,omitempty" yaml:"user,omitempty"`
	Role     Role   `json:"role,omitempty" yaml:"role,omitempty"`
}

// Address returns the address used to reach the node, preferring its IP
func (n Node) Address() string {
	if n.IP != "" {
		return n.IP
	}
	return n.Hostname
}

// IsPrimary reports whether the node coordinates the cluster
func (n Node) IsPrimary() bool {
	return n.Role == RolePrimary
}

func (n Node) ZapField() zap.Field {
	return zap.String("node", n.Hostname)
}
