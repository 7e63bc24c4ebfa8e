package cluster

import (
	"fmt"
	"strings"
)

// Inventory renders the cluster as an Ansible INI inventory so existing
// playbooks can target the same nodes.
func Inventory(cfg *ClusterConfig) string {
	var b strings.Builder

	fmt.Fprintf(&b, "# sparkmesh inventory for cluster %s\n\n", cfg.ClusterName)
	b.WriteString("[spark_nodes]\n")
	for _, n := range cfg.Nodes {
		fmt.Fprintf(&b, "%s ansible_host=%s", n.Hostname, n.Address())
		if n.User != "" {
			fmt.Fprintf(&b, " ansible_user=%s", n.User)
		}
		fmt.Fprintf(&b, " spark_role=%s\n", n.Role)
	}

	b.WriteString("\n[spark_cluster:children]\nspark_nodes\n")
	b.WriteString("\n[spark_cluster:vars]\n")
	fmt.Fprintf(&b, "cluster_name=%s\n", cfg.ClusterName)
	fmt.Fprintf(&b, "ansible_ssh_private_key_file=%s\n", cfg.SSHKeyPath)
	if cfg.SSHPort != 0 {
		fmt.Fprintf(&b, "ansible_port=%d\n", cfg.SSHPort)
	}
	fmt.Fprintf(&b, "enable_tailscale=%t\n", cfg.TailscaleEnabled())
	fmt.Fprintf(&b, "enable_nccl=%t\n", cfg.NCCLEnabled())

	return b.String()
}
