package booking

// Operation names a capability checked against an appointment.
type Operation int

const (
	OpRead Operation = iota
	OpUpdateStatus
	OpCancel
)

// CanAccess decides whether the principal may perform op on the appointment.
// Pure function over the principal and the appointment's participant ids:
//   - read: owning patient, owning doctor, or admin
//   - status update: owning doctor only
//   - cancel: owning patient, owning doctor, or admin
func CanAccess(p Principal, appt *Appointment, op Operation) bool {
	ownsAsPatient := p.Role == RolePatient && p.ID == appt.PatientID
	ownsAsDoctor := p.Role == RoleDoctor && p.ID == appt.DoctorID

	switch op {
	case OpRead, OpCancel:
		return ownsAsPatient || ownsAsDoctor || p.Role == RoleAdmin
	case OpUpdateStatus:
		return ownsAsDoctor
	default:
		return false
	}
}
