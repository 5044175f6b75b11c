// Package topology reads and writes the host topology file.
//
// The file is a JSON object with exactly one key, the entry host, whose
// value lists the hosts reachable from it:
//
//	{
//	    "crowbar.example.com": [
//	        "node-1",
//	        {"node-2": ["vm-a", "vm-b"]}
//	    ]
//	}
//
// A string item is a Host; a single-key object is a HostWithChildren whose
// children are reached through it. Flatten turns the tree into collection
// targets, each with its chain of jump hosts.
package topology
