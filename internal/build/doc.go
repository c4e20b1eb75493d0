// Package build provides a simulated system build service.
//
// Builds start in the pending state and move to running after the configured
// boot delay unless they were started or stopped in the meantime.
package build
