// Package auth provides the requestor allow-list used by the request engine.
//
// The list can be seeded from configuration and kept in sync with a YAML file
// through Watch.
package auth
