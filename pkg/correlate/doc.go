// Package correlate resolves anonymous kernel objects of a snapshot into the
// processes that reference them.
//
// Pipes, sockets and POSIX message queues appear in descriptor tables only
// as identifiers ("pipe:[777]"). The Correlator groups those descriptors into
// per-kind indices so a report can answer "who else holds this pipe". Shared
// memory objects under /dev/shm are matched against process memory maps by
// inode instead, since they are mapped rather than held open.
//
// Indices are built lazily, at most once per Correlator:
//
//	c := correlate.New(correlate.Source{Processes: snap.Processes})
//	eps, err := c.EndpointsForPipe(777)
//	if errors.IsCode(err, errors.ErrCodeEndpointNotFound) {
//	    // peer outside the snapshot
//	}
//
// Lookups are safe for concurrent use.
package correlate
