package interpreter

import "github.com/dokzlo13/ambientd/internal/canbus"

// Monitored identifiers and their byte layout.
const (
	DisplayID             uint32 = 0x3B3
	DisplayStatusByte            = 2
	DisplayPowerMask      byte   = 0x04
	DisplayStandardUIMask byte   = 0x04

	LightsID            uint32 = 0x3F5
	TurnSignalByte             = 0
	LeftTurnSignalMask  byte   = 0x02
	RightTurnSignalMask byte   = 0x08
	AmbientByte                = 1
	AmbientMask         byte   = 0xFF
)

// Frame labels for per-identifier counters.
const (
	DisplayLabel = "0x3B3"
	LightsLabel  = "0x3F5"
	OtherLabel   = "other"
)

// FrameLabel returns the counter label of f: its monitored identifier, or
// OtherLabel for anything the interpreter ignores by identifier.
func FrameLabel(f canbus.Frame) string {
	if f.Extended {
		return OtherLabel
	}
	switch f.ID {
	case DisplayID:
		return DisplayLabel
	case LightsID:
		return LightsLabel
	default:
		return OtherLabel
	}
}

// Rising reports whether a bit of mask is set in cur but clear in prev.
func Rising(cur, prev, mask byte) bool {
	return cur&mask != 0 && prev&mask == 0
}

// Falling reports whether a bit of mask is clear in cur but set in prev.
func Falling(cur, prev, mask byte) bool {
	return cur&mask == 0 && prev&mask != 0
}

// Edge names a detected transition.
type Edge string

const (
	EdgeAmbientOn          Edge = "ambient_on"
	EdgeAmbientOff         Edge = "ambient_off"
	EdgeDisplayOn          Edge = "display_on"
	EdgeDisplayOff         Edge = "display_off"
	EdgeLeftTurnSignalOn   Edge = "left_turn_signal_on"
	EdgeLeftTurnSignalOff  Edge = "left_turn_signal_off"
	EdgeRightTurnSignalOn  Edge = "right_turn_signal_on"
	EdgeRightTurnSignalOff Edge = "right_turn_signal_off"
)
