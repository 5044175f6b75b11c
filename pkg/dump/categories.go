package dump

import "github.com/NVIDIA/hostaudit/pkg/snapshotter"

// Category names. Each blob category is stored as <name>.json.gz.
const (
	CategoryHeader         = "header"
	CategoryProcesses      = "proc_data"
	CategoryParents        = "parents"
	CategoryAccounts       = "userdata"
	CategoryNamespaces     = "namespaces"
	CategoryNamespacesDeep = "namespaces_deep"
	CategoryNetworking     = "networking"
	CategorySysVIPC        = "sysvipc"
	CategorySystemData     = "systemdata"
	CategoryInterfaces     = "nwifaces"

	// CategoryFilesystem is relational: stored in IndexFile, sent over a
	// stream as a blob.
	CategoryFilesystem = "filesystem"
)

// Category binds a blob name to its snapshot field.
type Category struct {
	Name string
	get  func(*snapshotter.Snapshot) any
	set  func(*snapshotter.Snapshot) any
}

// Categories lists the blob categories in write order.
var Categories = []Category{
	{CategoryHeader, func(s *snapshotter.Snapshot) any { return &s.Header }, func(s *snapshotter.Snapshot) any { return &s.Header }},
	{CategoryProcesses, func(s *snapshotter.Snapshot) any { return s.Processes }, func(s *snapshotter.Snapshot) any { return &s.Processes }},
	{CategoryParents, func(s *snapshotter.Snapshot) any { return s.Parents }, func(s *snapshotter.Snapshot) any { return &s.Parents }},
	{CategoryAccounts, func(s *snapshotter.Snapshot) any { return s.Accounts }, func(s *snapshotter.Snapshot) any { return &s.Accounts }},
	{CategoryNamespaces, func(s *snapshotter.Snapshot) any { return s.Namespaces }, func(s *snapshotter.Snapshot) any { return &s.Namespaces }},
	{CategoryNamespacesDeep, func(s *snapshotter.Snapshot) any { return s.NamespacesDeep }, func(s *snapshotter.Snapshot) any { return &s.NamespacesDeep }},
	{CategoryNetworking, func(s *snapshotter.Snapshot) any { return s.Networking }, func(s *snapshotter.Snapshot) any { return &s.Networking }},
	{CategorySysVIPC, func(s *snapshotter.Snapshot) any { return s.SysVIPC }, func(s *snapshotter.Snapshot) any { return &s.SysVIPC }},
	{CategorySystemData, func(s *snapshotter.Snapshot) any { return s.System }, func(s *snapshotter.Snapshot) any { return &s.System }},
	{CategoryInterfaces, func(s *snapshotter.Snapshot) any { return s.Interfaces }, func(s *snapshotter.Snapshot) any { return &s.Interfaces }},
}

func isCategory(name string) bool {
	for _, c := range Categories {
		if c.Name == name {
			return true
		}
	}
	return false
}
