// Package inventory resolves the hosts a command runs on from the
// machines and host groups of the config file.
package inventory

import (
	"fmt"
	"sort"
	"strings"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/viper"
)

type Inventory struct {
	Machines   []string
	HostGroups map[string][]string
}

// Selection is the host targeting requested on the command line.
type Selection struct {
	Hosts   []string
	All     bool
	On      string
	Exclude []string
}

// Load reads machines and hostGroups from viper. Entries may be lists or
// comma separated strings.
func Load() (*Inventory, error) {
	inv := &Inventory{
		Machines:   splitHosts(viper.GetStringSlice("machines")),
		HostGroups: map[string][]string{},
	}
	var groups map[string]interface{}
	if err := viper.UnmarshalKey("hostGroups", &groups); err != nil {
		return nil, fmt.Errorf("failed to decode hostGroups: %w", err)
	}
	for name, v := range groups {
		switch hosts := v.(type) {
		case string:
			inv.HostGroups[name] = splitHosts([]string{hosts})
		case []interface{}:
			var s []string
			for _, h := range hosts {
				s = append(s, fmt.Sprint(h))
			}
			inv.HostGroups[name] = splitHosts(s)
		default:
			return nil, fmt.Errorf("host group %s: expected a list of hosts, got %T", name, v)
		}
	}
	log.Debugf("inventory: %d machine(s), %d host group(s)", len(inv.Machines), len(inv.HostGroups))
	return inv, nil
}

func splitHosts(entries []string) (hosts []string) {
	for _, e := range entries {
		for _, h := range strings.Split(e, ",") {
			if h = strings.TrimSpace(h); h != "" {
				hosts = append(hosts, h)
			}
		}
	}
	return
}

// GroupNames returns the configured group names, sorted.
func (inv *Inventory) GroupNames() (names []string) {
	for n := range inv.HostGroups {
		names = append(names, n)
	}
	sort.Strings(names)
	return
}

// Resolve returns the target hosts in selection order without duplicates.
// Explicit hosts, --all and --on add up; excluded hosts are removed last.
func (inv *Inventory) Resolve(sel Selection) ([]string, error) {
	var hosts []string
	hosts = append(hosts, splitHosts(sel.Hosts)...)
	if sel.All {
		if len(inv.Machines) == 0 {
			return nil, fmt.Errorf("--all requires machines in the config file")
		}
		hosts = append(hosts, inv.Machines...)
	}
	if sel.On != "" {
		group, ok := inv.HostGroups[sel.On]
		if !ok {
			return nil, fmt.Errorf("unknown host group %q, configured groups: %s", sel.On, strings.Join(inv.GroupNames(), ", "))
		}
		hosts = append(hosts, group...)
	}
	excluded := make(map[string]bool)
	for _, h := range splitHosts(sel.Exclude) {
		excluded[h] = true
	}
	seen := make(map[string]bool)
	var resolved []string
	for _, h := range hosts {
		if excluded[h] || seen[h] {
			continue
		}
		seen[h] = true
		resolved = append(resolved, h)
	}
	if len(resolved) == 0 {
		return nil, fmt.Errorf("no target hosts, use --hosts, --all or --on")
	}
	return resolved, nil
}
