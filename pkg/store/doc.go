// Package store provides the persistence facade backing every stateful
// component: a uniform get/put/list/delete contract over named collections of
// JSON records, implemented interchangeably by an in-memory map, a directory
// of JSON files, or a SQLite database.
//
// All implementations are safe for concurrent use and preserve
// read-after-write consistency within a single process.
package store
