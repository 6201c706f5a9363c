//go:build throttle_debug

package throttle

// Built with -tags throttle_debug, the pacing loop checks that every sleep
// grows the token count unless the bucket was already full.
const debugChecks = true
