// Package storage holds build records (Badger) and the optional Redis mirror of
// the daily counters.
package storage
