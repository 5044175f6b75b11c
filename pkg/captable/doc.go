// Package captable translates capability masks and descriptor flags into
// their symbolic names using JSON lookup tables. Default tables are embedded;
// a configured override file must exist.
package captable
