package booking

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"
)

// MemoryRepository is an in-memory Repository used for local development and
// tests. A single mutex serializes operations; InTx snapshots the state and
// restores it when fn fails, giving the same all-or-nothing semantics as the
// Postgres implementation.
type MemoryRepository struct {
	mu sync.Mutex
	st *memState
}

type memState struct {
	patients      map[uuid.UUID]*Patient
	doctors       map[uuid.UUID]*Doctor
	slots         map[uuid.UUID]*TimeSlot
	slotKeys      map[string]uuid.UUID
	appointments  map[uuid.UUID]*Appointment
	notifications []Notification
	events        []EventLog
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{st: &memState{
		patients:     make(map[uuid.UUID]*Patient),
		doctors:      make(map[uuid.UUID]*Doctor),
		slots:        make(map[uuid.UUID]*TimeSlot),
		slotKeys:     make(map[string]uuid.UUID),
		appointments: make(map[uuid.UUID]*Appointment),
	}}
}

func (s *memState) clone() *memState {
	c := &memState{
		patients:      make(map[uuid.UUID]*Patient, len(s.patients)),
		doctors:       make(map[uuid.UUID]*Doctor, len(s.doctors)),
		slots:         make(map[uuid.UUID]*TimeSlot, len(s.slots)),
		slotKeys:      make(map[string]uuid.UUID, len(s.slotKeys)),
		appointments:  make(map[uuid.UUID]*Appointment, len(s.appointments)),
		notifications: append([]Notification(nil), s.notifications...),
		events:        append([]EventLog(nil), s.events...),
	}
	for id, p := range s.patients {
		cp := *p
		c.patients[id] = &cp
	}
	for id, d := range s.doctors {
		cd := *d
		cd.Modes = append([]ConsultationMode(nil), d.Modes...)
		c.doctors[id] = &cd
	}
	for id, sl := range s.slots {
		cs := *sl
		c.slots[id] = &cs
	}
	for k, v := range s.slotKeys {
		c.slotKeys[k] = v
	}
	for id, a := range s.appointments {
		ca := *a
		c.appointments[id] = &ca
	}
	return c
}

// Seeding helpers, not part of the Repository interface.

func (r *MemoryRepository) AddPatient(p Patient) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cp := p
	r.st.patients[p.ID] = &cp
}

func (r *MemoryRepository) AddDoctor(d Doctor) {
	r.mu.Lock()
	defer r.mu.Unlock()
	cd := d
	r.st.doctors[d.ID] = &cd
}

// InTx serializes the whole unit under the repository mutex and rolls the
// state back when fn returns an error.
func (r *MemoryRepository) InTx(ctx context.Context, fn func(tx Repository) error) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	snap := r.st.clone()
	if err := fn(&memTx{st: r.st}); err != nil {
		r.st = snap
		return err
	}
	return nil
}

func (r *MemoryRepository) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.getPatient(id)
}

func (r *MemoryRepository) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.getDoctor(id)
}

func (r *MemoryRepository) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.getSlot(id)
}

func (r *MemoryRepository) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, fromDate, toDate string) ([]TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.listFreeSlots(doctorID, fromDate, toDate)
}

func (r *MemoryRepository) CreateSlots(ctx context.Context, slots []TimeSlot) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.createSlots(slots)
}

func (r *MemoryRepository) ReserveSlot(ctx context.Context, key SlotKey) (*TimeSlot, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.reserveSlot(key)
}

func (r *MemoryRepository) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.releaseSlot(slotID)
}

func (r *MemoryRepository) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.createAppointment(appt)
}

func (r *MemoryRepository) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.getAppointment(id)
}

func (r *MemoryRepository) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.getAppointmentDetail(id)
}

func (r *MemoryRepository) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.listAppointments(f)
}

func (r *MemoryRepository) GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.activeAppointmentForSlot(slotID)
}

func (r *MemoryRepository) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, notes, prescription *string) (*Appointment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.updateAppointmentStatus(id, from, to, notes, prescription)
}

func (r *MemoryRepository) InsertNotification(ctx context.Context, n *Notification) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.insertNotification(n)
}

func (r *MemoryRepository) FindUndispatched(ctx context.Context, limit int) ([]Notification, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.findUndispatched(limit)
}

func (r *MemoryRepository) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.markDispatched(id)
}

func (r *MemoryRepository) InsertEvent(ctx context.Context, ev EventLog) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.st.insertEvent(ev)
}

// Notifications returns a copy of all handoff records, for tests.
func (r *MemoryRepository) Notifications() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.st.notifications...)
}

// memTx is the transactional view handed to InTx callbacks. The outer
// repository holds the mutex for the whole unit, so memTx does not lock.
type memTx struct {
	st *memState
}

func (t *memTx) InTx(ctx context.Context, fn func(tx Repository) error) error {
	return fn(t)
}

func (t *memTx) GetPatientByID(ctx context.Context, id uuid.UUID) (*Patient, error) {
	return t.st.getPatient(id)
}

func (t *memTx) GetDoctorByID(ctx context.Context, id uuid.UUID) (*Doctor, error) {
	return t.st.getDoctor(id)
}

func (t *memTx) GetSlotByID(ctx context.Context, id uuid.UUID) (*TimeSlot, error) {
	return t.st.getSlot(id)
}

func (t *memTx) ListFreeSlots(ctx context.Context, doctorID uuid.UUID, fromDate, toDate string) ([]TimeSlot, error) {
	return t.st.listFreeSlots(doctorID, fromDate, toDate)
}

func (t *memTx) CreateSlots(ctx context.Context, slots []TimeSlot) error {
	return t.st.createSlots(slots)
}

func (t *memTx) ReserveSlot(ctx context.Context, key SlotKey) (*TimeSlot, error) {
	return t.st.reserveSlot(key)
}

func (t *memTx) ReleaseSlot(ctx context.Context, slotID uuid.UUID) error {
	return t.st.releaseSlot(slotID)
}

func (t *memTx) CreateAppointment(ctx context.Context, appt *Appointment) (*Appointment, error) {
	return t.st.createAppointment(appt)
}

func (t *memTx) GetAppointmentByID(ctx context.Context, id uuid.UUID) (*Appointment, error) {
	return t.st.getAppointment(id)
}

func (t *memTx) GetAppointmentDetail(ctx context.Context, id uuid.UUID) (*AppointmentDetail, error) {
	return t.st.getAppointmentDetail(id)
}

func (t *memTx) ListAppointments(ctx context.Context, f AppointmentFilter) ([]Appointment, error) {
	return t.st.listAppointments(f)
}

func (t *memTx) GetActiveAppointmentForSlot(ctx context.Context, slotID uuid.UUID) (*Appointment, error) {
	return t.st.activeAppointmentForSlot(slotID)
}

func (t *memTx) UpdateAppointmentStatus(ctx context.Context, id uuid.UUID, from, to AppointmentStatus, notes, prescription *string) (*Appointment, error) {
	return t.st.updateAppointmentStatus(id, from, to, notes, prescription)
}

func (t *memTx) InsertNotification(ctx context.Context, n *Notification) error {
	return t.st.insertNotification(n)
}

func (t *memTx) FindUndispatched(ctx context.Context, limit int) ([]Notification, error) {
	return t.st.findUndispatched(limit)
}

func (t *memTx) MarkDispatched(ctx context.Context, id uuid.UUID) error {
	return t.st.markDispatched(id)
}

func (t *memTx) InsertEvent(ctx context.Context, ev EventLog) error {
	return t.st.insertEvent(ev)
}

// State operations

func (s *memState) getPatient(id uuid.UUID) (*Patient, error) {
	p, ok := s.patients[id]
	if !ok {
		return nil, ErrPatientNotFound
	}
	cp := *p
	return &cp, nil
}

func (s *memState) getDoctor(id uuid.UUID) (*Doctor, error) {
	d, ok := s.doctors[id]
	if !ok {
		return nil, ErrDoctorNotFound
	}
	cd := *d
	cd.Modes = append([]ConsultationMode(nil), d.Modes...)
	return &cd, nil
}

func (s *memState) getSlot(id uuid.UUID) (*TimeSlot, error) {
	sl, ok := s.slots[id]
	if !ok {
		return nil, ErrSlotNotFound
	}
	cs := *sl
	return &cs, nil
}

func (s *memState) listFreeSlots(doctorID uuid.UUID, fromDate, toDate string) ([]TimeSlot, error) {
	var result []TimeSlot
	for _, sl := range s.slots {
		if sl.DoctorID != doctorID || sl.Booked {
			continue
		}
		if sl.Date < fromDate || sl.Date > toDate {
			continue
		}
		result = append(result, *sl)
	}
	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Start < result[j].Start
	})
	return result, nil
}

func (s *memState) createSlots(slots []TimeSlot) error {
	now := time.Now()
	for _, sl := range slots {
		key := sl.Key().String()
		if _, exists := s.slotKeys[key]; exists {
			continue
		}
		cs := sl
		if cs.ID == uuid.Nil {
			cs.ID = uuid.New()
		}
		cs.CreatedAt = now
		cs.UpdatedAt = now
		s.slots[cs.ID] = &cs
		s.slotKeys[key] = cs.ID
	}
	return nil
}

func (s *memState) reserveSlot(key SlotKey) (*TimeSlot, error) {
	id, ok := s.slotKeys[key.String()]
	if !ok {
		return nil, ErrSlotNotFound
	}
	sl := s.slots[id]
	if sl.Booked {
		return nil, ErrSlotTaken
	}
	sl.Booked = true
	sl.UpdatedAt = time.Now()
	cs := *sl
	return &cs, nil
}

func (s *memState) releaseSlot(slotID uuid.UUID) error {
	sl, ok := s.slots[slotID]
	if !ok {
		return nil
	}
	if sl.Booked {
		sl.Booked = false
		sl.UpdatedAt = time.Now()
	}
	return nil
}

func (s *memState) createAppointment(appt *Appointment) (*Appointment, error) {
	ca := *appt
	if ca.ID == uuid.Nil {
		ca.ID = uuid.New()
	}
	now := time.Now()
	ca.CreatedAt = now
	ca.UpdatedAt = now
	s.appointments[ca.ID] = &ca
	out := ca
	return &out, nil
}

func (s *memState) getAppointment(id uuid.UUID) (*Appointment, error) {
	a, ok := s.appointments[id]
	if !ok {
		return nil, ErrAppointmentNotFound
	}
	ca := *a
	return &ca, nil
}

func (s *memState) getAppointmentDetail(id uuid.UUID) (*AppointmentDetail, error) {
	appt, err := s.getAppointment(id)
	if err != nil {
		return nil, err
	}
	detail := AppointmentDetail{Appointment: *appt}
	if slot, err := s.getSlot(appt.SlotID); err == nil {
		detail.Slot = slot
	}
	patient, err := s.getPatient(appt.PatientID)
	if err != nil {
		return nil, err
	}
	detail.Patient = patient
	doctor, err := s.getDoctor(appt.DoctorID)
	if err != nil {
		return nil, err
	}
	detail.Doctor = doctor
	return &detail, nil
}

func (s *memState) listAppointments(f AppointmentFilter) ([]Appointment, error) {
	now := time.Now()

	var result []Appointment
	for _, a := range s.appointments {
		if f.PatientID != nil && a.PatientID != *f.PatientID {
			continue
		}
		if f.DoctorID != nil && a.DoctorID != *f.DoctorID {
			continue
		}
		if f.Status != nil && a.Status != *f.Status {
			continue
		}
		if f.UpcomingOnly {
			at, err := ParseSlotTime(a.Date, a.Start)
			if err != nil || at.Before(now) {
				continue
			}
		}
		result = append(result, *a)
	}

	sort.Slice(result, func(i, j int) bool {
		if result[i].Date != result[j].Date {
			return result[i].Date < result[j].Date
		}
		return result[i].Start < result[j].Start
	})

	if f.Offset > 0 {
		if f.Offset >= len(result) {
			return nil, nil
		}
		result = result[f.Offset:]
	}
	if f.Limit > 0 && len(result) > f.Limit {
		result = result[:f.Limit]
	}
	return result, nil
}

func (s *memState) activeAppointmentForSlot(slotID uuid.UUID) (*Appointment, error) {
	for _, a := range s.appointments {
		if a.SlotID == slotID && a.Active() {
			ca := *a
			return &ca, nil
		}
	}
	return nil, ErrAppointmentNotFound
}

func (s *memState) updateAppointmentStatus(id uuid.UUID, from, to AppointmentStatus, notes, prescription *string) (*Appointment, error) {
	a, ok := s.appointments[id]
	if !ok || a.Status != from {
		return nil, ErrAppointmentNotFound
	}
	a.Status = to
	if notes != nil {
		a.Notes = notes
	}
	if prescription != nil {
		a.Prescription = prescription
	}
	a.UpdatedAt = time.Now()
	ca := *a
	return &ca, nil
}

func (s *memState) insertNotification(n *Notification) error {
	cn := *n
	if cn.ID == uuid.Nil {
		cn.ID = uuid.New()
	}
	cn.CreatedAt = time.Now()
	*n = cn
	s.notifications = append(s.notifications, cn)
	return nil
}

func (s *memState) findUndispatched(limit int) ([]Notification, error) {
	var result []Notification
	for _, n := range s.notifications {
		if n.DispatchedAt == nil {
			result = append(result, n)
			if limit > 0 && len(result) >= limit {
				break
			}
		}
	}
	return result, nil
}

func (s *memState) markDispatched(id uuid.UUID) error {
	for i := range s.notifications {
		if s.notifications[i].ID == id && s.notifications[i].DispatchedAt == nil {
			now := time.Now()
			s.notifications[i].DispatchedAt = &now
		}
	}
	return nil
}

func (s *memState) insertEvent(ev EventLog) error {
	ev.ID = int64(len(s.events) + 1)
	if ev.CreatedAt.IsZero() {
		ev.CreatedAt = time.Now()
	}
	s.events = append(s.events, ev)
	return nil
}
