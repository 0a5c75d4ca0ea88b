package booking

// transitions is the full status graph. A status missing from the map is
// terminal.
var transitions = map[AppointmentStatus][]AppointmentStatus{
	StatusScheduled: {StatusConfirmed, StatusCompleted, StatusCancelled, StatusNoShow},
	StatusConfirmed: {StatusCompleted, StatusCancelled, StatusNoShow},
}

// IsTerminal reports whether no transition leaves the given status.
func IsTerminal(s AppointmentStatus) bool {
	return len(transitions[s]) == 0
}

// CanTransition reports whether from -> to is a legal status change.
func CanTransition(from, to AppointmentStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// doctorStatuses are the transitions only the owning doctor may drive.
// Cancellation goes through the cancel operation instead.
var doctorStatuses = map[AppointmentStatus]bool{
	StatusConfirmed: true,
	StatusCompleted: true,
	StatusNoShow:    true,
}

// IsDoctorStatus reports whether the target status belongs to the
// doctor-driven update operation.
func IsDoctorStatus(s AppointmentStatus) bool {
	return doctorStatuses[s]
}
