// Package events publishes build and statistics events to NATS.
//
// Subjects, for a configured base subject "vmorg":
//
//	vmorg.machines           machine.created from the build simulator
//	vmorg.requests.<result>  one message per request outcome
//	vmorg.report             the closed daily report at rollover
package events
