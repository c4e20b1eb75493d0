// Package machine defines the machine variants that can be requested and the
// canonical key used to group build statistics.
//
// Keys look like
//
//	desktop{host="host2020" requestor="Mike" cpus=1 ram_gb=4 hdd_gb=200 os="Windows 10" asset_tag="hr498"}
//
// String fields are quoted so a value containing a separator cannot collide
// with a different configuration.
package machine
