// Copyright (c) 2025, NVIDIA CORPORATION.  All rights reserved.
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

package fsindex

import (
	"fmt"
	"strings"

	"golang.org/x/sys/unix"
)

// Query selects index entries. And clauses must all hold; when any Or clause
// is present, at least one of them must hold as well. A Query without clauses
// matches every entry.
//
// Query is the only place predicate text is composed. String values are
// quoted with doubled single quotes and numbers are formatted, never spliced.
type Query struct {
	and []string
	or  []string
}

// NewQuery returns an empty query.
func NewQuery() *Query {
	return &Query{}
}

func (q *Query) addAnd(format string, args ...any) *Query {
	q.and = append(q.and, "("+fmt.Sprintf(format, args...)+")")
	return q
}

func (q *Query) addOr(format string, args ...any) *Query {
	q.or = append(q.or, "("+fmt.Sprintf(format, args...)+")")
	return q
}

// UID restricts to entries owned by uid.
func (q *Query) UID(uid int) *Query { return q.addAnd("uid = %d", uid) }

// GID restricts to entries owned by group gid.
func (q *Query) GID(gid int) *Query { return q.addAnd("gid = %d", gid) }

// Directory restricts to the direct children of dir.
func (q *Query) Directory(dir string) *Query { return q.addAnd("path = %s", quote(dir)) }

// Type restricts to one ls(1) type character. "f" is accepted for "-".
func (q *Query) Type(c string) *Query {
	if c == "f" {
		c = "-"
	}
	return q.addAnd("type = %s", quote(c))
}

// FileMode restricts to entries whose permission bits equal perm exactly.
func (q *Query) FileMode(perm uint32) *Query {
	return q.addAnd("(mode & %d) = %d", 0o777, perm&0o777)
}

// ModeAll restricts to entries with every bit of mask set.
func (q *Query) ModeAll(mask uint32) *Query { return q.addAnd("(mode & %#x) = %#x", mask, mask) }

// ModeNone restricts to entries with no bit of mask set.
func (q *Query) ModeNone(mask uint32) *Query { return q.addAnd("(mode & %#x) = 0", mask) }

// ModeAny accepts entries with at least one bit of mask set.
func (q *Query) ModeAny(mask uint32) *Query { return q.addOr("(mode & %#x) != 0", mask) }

// CapsNonZero accepts entries carrying file capabilities.
func (q *Query) CapsNonZero() *Query { return q.addOr("caps != 0") }

// SpecialBits accepts setuid, setgid and sticky entries, and entries whose
// metadata could not be read.
func (q *Query) SpecialBits() *Query {
	q.addOr("(mode & %#x) != 0", uint32(unix.S_ISUID|unix.S_ISGID|unix.S_ISVTX))
	q.addOr("uid = -1")
	q.addOr("gid = -1")
	return q.addOr("type = %s", quote("?"))
}

// String returns the WHERE clause, or "" for a query matching everything.
func (q *Query) String() string {
	parts := append([]string{}, q.and...)
	if len(q.or) > 0 {
		parts = append(parts, "("+strings.Join(q.or, " OR ")+")")
	}
	if len(parts) == 0 {
		return ""
	}
	return "WHERE " + strings.Join(parts, " AND ")
}

func (q *Query) clause() string {
	if q == nil {
		return ""
	}
	if s := q.String(); s != "" {
		return " " + s
	}
	return ""
}

func quote(s string) string {
	return "'" + strings.ReplaceAll(s, "'", "''") + "'"
}
