// Package requestengine is the entry point for machine requests.
//
// A request passes through three states: the requestor is authorised, the
// build service is asked for the machine, and the outcome is accounted for in
// the day's statistics. Rejections (ErrUserNotEntitled) and build failures
// (ErrMachineNotCreated) both increment the failed build counter. Successful
// builds are counted per requestor and per machine key.
//
// The engine never resets itself. Day rollover is driven from outside through
// ResetDay, see package rollover.
package requestengine
