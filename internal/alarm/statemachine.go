package alarm

import "github.com/WispAyr/overwatch-sub003/pkg/models"

// transitions is the fixed alarm state machine (spec §4.8). A transition not
// present here is rejected as ErrInvalidTransition.
var transitions = map[models.AlarmState]map[models.AlarmState]bool{
	models.StateNew: {
		models.StateTriage:     true,
		models.StateSuppressed: true,
	},
	models.StateTriage: {
		models.StateActive:     true,
		models.StateSnoozed:    true,
		models.StateSuppressed: true,
		models.StateResolved:   true,
	},
	models.StateSnoozed: {
		models.StateTriage:     true,
		models.StateSuppressed: true,
	},
	models.StateActive: {
		models.StateContained:  true,
		models.StateResolved:   true,
		models.StateSuppressed: true,
	},
	models.StateContained: {
		models.StateResolved:   true,
		models.StateActive:     true,
		models.StateSuppressed: true,
	},
	models.StateResolved: {
		models.StateClosed:     true,
		models.StateActive:     true,
		models.StateSuppressed: true,
	},
	models.StateClosed:     {},
	models.StateSuppressed: {},
}

func isValidTransition(from, to models.AlarmState) bool {
	return transitions[from][to]
}

func isTerminal(s models.AlarmState) bool {
	return s == models.StateClosed || s == models.StateSuppressed
}
