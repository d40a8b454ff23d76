package controller

// Mode is the simulated machine mode.
type Mode string

// Machine modes.
const (
	ModeSleep    Mode = "sleep"
	ModeIdle     Mode = "idle"
	ModeEspresso Mode = "espresso"
	ModeSteam    Mode = "steam"
	ModeHotWater Mode = "hot_water"
	ModeFlush    Mode = "flush"
)

var transitions = map[Mode][]Mode{
	ModeSleep:    {ModeIdle},
	ModeIdle:     {ModeSleep, ModeEspresso, ModeSteam, ModeHotWater, ModeFlush},
	ModeEspresso: {ModeIdle},
	ModeSteam:    {ModeIdle},
	ModeHotWater: {ModeIdle},
	ModeFlush:    {ModeIdle},
}

// CanTransition reports whether the machine may move from one mode to
// another. Staying in the same mode is always allowed.
func CanTransition(from, to Mode) bool {
	if from == to {
		return true
	}
	for _, m := range transitions[from] {
		if m == to {
			return true
		}
	}
	return false
}

// Allowed returns the modes reachable from m.
func Allowed(m Mode) []Mode {
	out := make([]Mode, len(transitions[m]))
	copy(out, transitions[m])
	return out
}

// Active reports whether water is flowing in mode m.
func (m Mode) Active() bool {
	switch m {
	case ModeEspresso, ModeSteam, ModeHotWater, ModeFlush:
		return true
	default:
		return false
	}
}

func (m Mode) substate() string {
	switch m {
	case ModeSleep:
		return "sleeping"
	case ModeIdle:
		return "ready"
	default:
		return "pouring"
	}
}
