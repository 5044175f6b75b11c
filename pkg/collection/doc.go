// Package collection drives a collection run over a set of targets.
//
// Each target is loaded from the dump store when a complete dump exists and
// caching is enabled; otherwise it is probed through a transport and the
// resulting stream is stored. Hosts are processed concurrently up to a
// parallelism limit, and probe starts are paced by a token bucket so a large
// topology does not open every connection at once.
//
//	c := &collection.Collector{
//	    Store:     dump.New(dir, logger),
//	    Transport: &transport.SSH{PrivilegeWrapper: "sudo"},
//	    UseCache:  true,
//	}
//	res, err := c.Collect(ctx, top.Flatten())
//	for _, h := range res.Failed() {
//	    fmt.Println(h.Host, h.Error)
//	}
package collection
