//go:build !throttle_debug

package throttle

const debugChecks = false
