package shardwire

// GatewayCloseCode describes the behavior associated with a Gateway Close
// Event Code.
//
// https://discord.com/developers/docs/topics/opcodes-and-status-codes#gateway-close-event-codes
type GatewayCloseCode struct {
	Code        int
	Description string
	Explanation string

	// Reconnect reports whether a client SHOULD reconnect (with Resume) upon
	// receiving this close code.
	Reconnect bool

	// Terminal reports whether the close code indicates that the session
	// must not be retried at all.
	Terminal bool
}

// GatewayCloseCodes maps a Gateway Close Event Code to its documented
// behavior.
var GatewayCloseCodes = map[int]GatewayCloseCode{
	4000: {4000, "Unknown error", "We're not sure what went wrong. Try reconnecting?", true, false},
	4001: {4001, "Unknown opcode", "You sent an invalid Gateway opcode or an invalid payload for an opcode.", true, false},
	4002: {4002, "Decode error", "You sent an invalid payload to us.", true, false},
	4003: {4003, "Not authenticated", "You sent us a payload prior to identifying.", true, false},
	4004: {4004, "Authentication failed", "The account token sent with your identify payload is incorrect.", false, true},
	4005: {4005, "Already authenticated", "You sent more than one identify payload.", true, false},
	4007: {4007, "Invalid seq", "The sequence sent when resuming the session was invalid.", true, false},
	4008: {4008, "Rate limited", "You're sending payloads to us too quickly. Slow down!", true, false},
	4009: {4009, "Session timed out", "Your session timed out. Reconnect and start a new one.", true, false},
	4010: {4010, "Invalid shard", "You sent us an invalid shard when identifying.", false, true},
	4011: {4011, "Sharding required", "The session would have handled too many guilds - you are required to shard your connection.", false, true},
	4012: {4012, "Invalid API version", "You sent an invalid version for the gateway.", false, true},
	4013: {4013, "Invalid intent(s)", "You sent an invalid intent for a Gateway Intent.", false, true},
	4014: {4014, "Disallowed intent(s)", "You sent a disallowed intent for a Gateway Intent.", false, true},
}

// Client-initiated close codes.
const (
	// CloseNormal is used to close a Session gracefully; Discord will not
	// allow a Resume.
	CloseNormal = 1000

	// CloseRestarting is used to close a Session in a way that preserves its
	// ability to Resume.
	CloseRestarting = 4000
)
