package voice

import "log"

// ErrorLog is called with non-fatal, swallowed errors: undecodable gateway
// events and Opus decode failures in the auxiliary loop, a mismatched or
// missed heartbeat ack, a failed Speaking send from the mixer, and similar.
// Inbound media packets that fail to decrypt are dropped without a call.
// Overwrite it to route into an application's own logger.
var ErrorLog = func(err error) {
	log.Println("voice: error:", err)
}

// debugLog is the verbose tracing hook. It is a no-op by default and, being
// unexported, can only be replaced from inside this package.
var debugLog = func(string, ...interface{}) {}

func logDebug(format string, args ...interface{}) {
	debugLog(format, args...)
}
