package correlate

import (
	"context"
	"fmt"
	"maps"
	"slices"
	"strconv"
	"sync"

	"github.com/NVIDIA/hostaudit/pkg/errors"
	"github.com/NVIDIA/hostaudit/pkg/fsindex"
	"github.com/NVIDIA/hostaudit/pkg/kernel"
)

// Endpoint is one process descriptor referencing an anonymous resource.
type Endpoint struct {
	PID  int    `json:"pid"`
	FD   int    `json:"fd"`
	Name string `json:"name"`
}

// ShmMapping is a POSIX shared memory object together with the processes
// that have it mapped.
type ShmMapping struct {
	Name  string     `json:"name"`
	Inode uint64     `json:"inode"`
	PIDs  []Endpoint `json:"pids"`
}

// FileIndex looks up filesystem metadata by path. fsindex.Index implements it.
type FileIndex interface {
	FileProperties(ctx context.Context, path string) (*fsindex.Entry, error)
}

// Source is the snapshot data the correlator indexes. The correlator never
// mutates it.
type Source struct {
	Processes  map[int]*kernel.Process
	Protocols  *kernel.ProtocolTables
	Shm        []kernel.ShmFile
	Interfaces map[string]kernel.NetInterface
	// Files is optional; without it unix socket paths carry no mode.
	Files FileIndex
}

// Correlator maps pipe, socket and queue identifiers and shared memory
// inodes to the endpoints referencing them. Each index is built on first use
// and is safe for concurrent lookups afterwards.
type Correlator struct {
	src Source

	pipes   endpointIndex[uint64]
	sockets endpointIndex[uint64]
	queues  endpointIndex[string]

	shmOnce sync.Once
	shm     map[uint64]*ShmMapping
}

// New returns a correlator over src. No index is built until first lookup.
func New(src Source) *Correlator {
	c := &Correlator{src: src}
	c.pipes.kind = kernel.FDPipe
	c.sockets.kind = kernel.FDSocket
	c.queues.kind = kernel.FDQueue
	return c
}

// Build forces construction of every index. Calling it again is a no-op.
func (c *Correlator) Build() {
	c.pipes.ensure(c.src.Processes, inodeKey)
	c.sockets.ensure(c.src.Processes, inodeKey)
	c.queues.ensure(c.src.Processes, nameKey)
	c.shmOnce.Do(c.buildShm)
}

// EndpointsForPipe returns the endpoints of pipe id ordered by pid then fd.
func (c *Correlator) EndpointsForPipe(id uint64) ([]Endpoint, error) {
	c.pipes.ensure(c.src.Processes, inodeKey)
	return c.pipes.lookup(id)
}

// OtherPointOfPipe returns the first endpoint of pipe id that does not
// belong to pid.
func (c *Correlator) OtherPointOfPipe(id uint64, pid int) (*Endpoint, error) {
	eps, err := c.EndpointsForPipe(id)
	if err != nil {
		return nil, err
	}
	for i := range eps {
		if eps[i].PID != pid {
			ep := eps[i]
			return &ep, nil
		}
	}
	return nil, errors.NewWithContext(errors.ErrCodeEndpointNotFound,
		"pipe has no other endpoint", map[string]any{"pipe": id, "pid": pid})
}

// EndpointsForSocket returns the endpoints of socket inode id.
func (c *Correlator) EndpointsForSocket(id uint64) ([]Endpoint, error) {
	c.sockets.ensure(c.src.Processes, inodeKey)
	return c.sockets.lookup(id)
}

// EndpointsForQueue returns the endpoints of the POSIX message queue name.
func (c *Correlator) EndpointsForQueue(name string) ([]Endpoint, error) {
	c.queues.ensure(c.src.Processes, nameKey)
	return c.queues.lookup(name)
}

// ShmsForPID returns the shared memory objects mapped by pid, ordered by
// inode. The result is empty, not an error, for a pid without mappings.
func (c *Correlator) ShmsForPID(pid int) []ShmMapping {
	c.shmOnce.Do(c.buildShm)
	var out []ShmMapping
	for _, ino := range slices.Sorted(maps.Keys(c.shm)) {
		m := c.shm[ino]
		if slices.ContainsFunc(m.PIDs, func(e Endpoint) bool { return e.PID == pid }) {
			out = append(out, *m)
		}
	}
	return out
}

// buildShm matches /dev/shm inodes against every process's memory maps.
func (c *Correlator) buildShm() {
	c.shm = make(map[uint64]*ShmMapping, len(c.src.Shm))
	for _, f := range c.src.Shm {
		c.shm[f.Inode] = &ShmMapping{Name: f.Name, Inode: f.Inode, PIDs: []Endpoint{}}
	}
	for _, pid := range slices.Sorted(maps.Keys(c.src.Processes)) {
		p := c.src.Processes[pid]
		seen := map[uint64]bool{}
		for _, m := range p.Maps {
			entry, ok := c.shm[m.Inode]
			if !ok || m.Inode == 0 || seen[m.Inode] {
				continue
			}
			seen[m.Inode] = true
			entry.PIDs = append(entry.PIDs, Endpoint{PID: pid, FD: -1, Name: p.Label()})
		}
	}
}

type keyFunc[K comparable] func(fd kernel.FileDescriptor) (K, bool)

func inodeKey(fd kernel.FileDescriptor) (uint64, bool) {
	id, err := strconv.ParseUint(fd.Identifier, 10, 64)
	return id, err == nil
}

func nameKey(fd kernel.FileDescriptor) (string, bool) {
	return fd.Identifier, fd.Identifier != ""
}

// endpointIndex buckets the descriptors of one kind by identifier.
type endpointIndex[K comparable] struct {
	kind    kernel.FDKind
	once    sync.Once
	buckets map[K][]Endpoint
}

func (x *endpointIndex[K]) ensure(procs map[int]*kernel.Process, key keyFunc[K]) {
	x.once.Do(func() { x.build(procs, key) })
}

func (x *endpointIndex[K]) build(procs map[int]*kernel.Process, key keyFunc[K]) {
	x.buckets = make(map[K][]Endpoint)
	// pids ascending and descriptors already sorted, so buckets come out
	// ordered by pid then fd
	for _, pid := range slices.Sorted(maps.Keys(procs)) {
		p := procs[pid]
		for _, fd := range p.FileDescriptors {
			if fd.Kind != x.kind {
				continue
			}
			k, ok := key(fd)
			if !ok {
				continue
			}
			x.buckets[k] = append(x.buckets[k], Endpoint{PID: pid, FD: fd.FD, Name: p.Label()})
		}
	}
	for k, eps := range x.buckets {
		slices.SortStableFunc(eps, func(a, b Endpoint) int {
			if a.PID != b.PID {
				return a.PID - b.PID
			}
			return a.FD - b.FD
		})
		x.buckets[k] = eps
	}
}

func (x *endpointIndex[K]) lookup(id K) ([]Endpoint, error) {
	eps, ok := x.buckets[id]
	if !ok {
		return nil, errors.NewWithContext(errors.ErrCodeEndpointNotFound,
			fmt.Sprintf("no endpoints for %s %v", x.kind, id), map[string]any{"kind": string(x.kind), "id": id})
	}
	return slices.Clone(eps), nil
}
