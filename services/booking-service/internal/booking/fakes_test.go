package booking

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/igabaycare/carebook/libs/auth"
	"github.com/igabaycare/carebook/libs/paygateway"
	"github.com/igabaycare/carebook/services/booking-service/internal/intent"
	"github.com/igabaycare/carebook/services/booking-service/internal/model"
	"github.com/igabaycare/carebook/services/booking-service/internal/notify"
	"github.com/igabaycare/carebook/services/booking-service/internal/storage"
)

var testNow = time.Date(2024, 3, 1, 8, 0, 0, 0, time.UTC)

type fakeAppointments struct {
	mu        sync.Mutex
	rows      map[string]model.Appointment
	inserts   int
	links     []storage.PaymentLink
	createErr error
	onCreate  func(a model.Appointment)
	nextID    int
	updateErr error
}

func newFakeAppointments() *fakeAppointments {
	return &fakeAppointments{rows: map[string]model.Appointment{}}
}

func (f *fakeAppointments) put(a model.Appointment) model.Appointment {
	f.nextID++
	if a.ID == "" {
		a.ID = fmt.Sprintf("appt-%d", f.nextID)
	}
	a.CreatedAt, a.UpdatedAt = testNow, testNow
	f.rows[a.ID] = a
	return a
}

func (f *fakeAppointments) GetByID(_ context.Context, id string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	a, ok := f.rows[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	return a, nil
}

func (f *fakeAppointments) FindByPaymentIntent(_ context.Context, sessionID string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.PaymentIntentID == sessionID {
			return a, nil
		}
	}
	return model.Appointment{}, storage.ErrNotFound
}

func (f *fakeAppointments) CreatePaid(_ context.Context, a model.Appointment, link storage.PaymentLink) (model.Appointment, error) {
	if f.onCreate != nil {
		f.onCreate(a)
	}
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return model.Appointment{}, f.createErr
	}
	for _, existing := range f.rows {
		if existing.PaymentIntentID == a.PaymentIntentID {
			return model.Appointment{}, storage.ErrDuplicatePayment
		}
	}
	f.inserts++
	f.links = append(f.links, link)
	return f.put(a), nil
}

func (f *fakeAppointments) Create(_ context.Context, a model.Appointment) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.inserts++
	return f.put(a), nil
}

func (f *fakeAppointments) HasActiveBooking(_ context.Context, patientID, clinicID, date, clock string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, a := range f.rows {
		if a.PatientID == patientID && a.ClinicID == clinicID && a.Date == date && a.Time == clock &&
			(a.Status == model.StatusScheduled || a.Status == model.StatusConfirmed) {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeAppointments) TakenTimes(_ context.Context, clinicID, date string) ([]string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []string
	for _, a := range f.rows {
		if a.ClinicID == clinicID && a.Date == date && (a.Status == model.StatusScheduled || a.Status == model.StatusConfirmed) {
			out = append(out, a.Time)
		}
	}
	return out, nil
}

func (f *fakeAppointments) ListForActor(_ context.Context, actor auth.Actor, _ storage.ListFilter) ([]model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var out []model.Appointment
	for _, a := range f.rows {
		if canView(actor, a) {
			out = append(out, a)
		}
	}
	return out, nil
}

func (f *fakeAppointments) UpdateStatus(_ context.Context, id string, from, to model.AppointmentStatus, reason string) (model.Appointment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.updateErr != nil {
		return model.Appointment{}, f.updateErr
	}
	a, ok := f.rows[id]
	if !ok {
		return model.Appointment{}, storage.ErrNotFound
	}
	if a.Status != from {
		return model.Appointment{}, storage.ErrConflict
	}
	a.Status = to
	if to == model.StatusCancelled {
		a.CancellationReason = reason
		now := testNow
		a.CancelledAt = &now
	}
	f.rows[id] = a
	return a, nil
}

type fakeDirectory struct {
	patients map[string]model.Patient
	clinics  map[string]model.Clinic
}

func newFakeDirectory() *fakeDirectory {
	return &fakeDirectory{
		patients: map[string]model.Patient{
			"pat-1": {ID: "pat-1", FirstName: "Juan", LastName: "Dela Cruz", Email: "juan@example.com", Phone: "+639171234567"},
			"pat-2": {ID: "pat-2", FirstName: "Maria", LastName: "Santos", Email: "maria@example.com"},
		},
		clinics: map[string]model.Clinic{
			"cli-1": {ID: "cli-1", Name: "Cebu Family Clinic", ConsultationFee: 500, OpeningTime: "08:00", ClosingTime: "17:00", SlotMinutes: 30},
		},
	}
}

func (d *fakeDirectory) GetPatient(_ context.Context, id string) (model.Patient, error) {
	p, ok := d.patients[id]
	if !ok {
		return model.Patient{}, storage.ErrNotFound
	}
	return p, nil
}

func (d *fakeDirectory) GetClinic(_ context.Context, id string) (model.Clinic, error) {
	c, ok := d.clinics[id]
	if !ok {
		return model.Clinic{}, storage.ErrNotFound
	}
	return c, nil
}

type fakeIntents struct {
	mu      sync.Mutex
	items   map[string]intent.PendingBooking
	saveErr error
}

func newFakeIntents() *fakeIntents {
	return &fakeIntents{items: map[string]intent.PendingBooking{}}
}

func (s *fakeIntents) Save(_ context.Context, clientID string, p intent.PendingBooking) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.saveErr != nil {
		return s.saveErr
	}
	s.items[clientID] = p
	return nil
}

func (s *fakeIntents) Load(_ context.Context, clientID string) (intent.PendingBooking, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.items[clientID]
	if !ok {
		return intent.PendingBooking{}, intent.ErrNotFound
	}
	return p, nil
}

func (s *fakeIntents) Clear(_ context.Context, clientID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.items, clientID)
	return nil
}

type fakeNotifier struct {
	sent []notify.Notification
	err  error
}

func (n *fakeNotifier) Notify(_ context.Context, note notify.Notification) (model.Notification, error) {
	if n.err != nil {
		return model.Notification{}, n.err
	}
	n.sent = append(n.sent, note)
	return model.Notification{ID: fmt.Sprintf("n-%d", len(n.sent)), UserID: note.UserID, Type: note.Type}, nil
}

type fakeMirrors struct {
	statuses map[string]model.AppointmentStatus
	err      error
}

func (m *fakeMirrors) SetStatus(_ context.Context, appointmentID string, status model.AppointmentStatus) error {
	if m.err != nil {
		return m.err
	}
	if m.statuses == nil {
		m.statuses = map[string]model.AppointmentStatus{}
	}
	m.statuses[appointmentID] = status
	return nil
}

// scriptedGateway replays statuses for GetSession; the last one repeats.
type scriptedGateway struct {
	*paygateway.Memory
	statuses  []paygateway.Status
	errs      []error
	polls     int
	createErr error
}

func (g *scriptedGateway) CreateSession(ctx context.Context, p paygateway.CreateParams) (paygateway.Session, error) {
	if g.createErr != nil {
		return paygateway.Session{}, g.createErr
	}
	return g.Memory.CreateSession(ctx, p)
}

func (g *scriptedGateway) GetSession(ctx context.Context, id string) (paygateway.Session, error) {
	i := g.polls
	g.polls++
	if i < len(g.errs) && g.errs[i] != nil {
		return paygateway.Session{}, g.errs[i]
	}
	s, err := g.Memory.GetSession(ctx, id)
	if err != nil {
		return s, err
	}
	if len(g.statuses) > 0 {
		if i >= len(g.statuses) {
			i = len(g.statuses) - 1
		}
		s.Status = g.statuses[i]
	}
	return s, nil
}

type harness struct {
	orch     *Orchestrator
	gateway  *scriptedGateway
	appts    *fakeAppointments
	dir      *fakeDirectory
	intents  *fakeIntents
	notifier *fakeNotifier
	mirrors  *fakeMirrors
	sleeps   []time.Duration
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	h := &harness{
		gateway:  &scriptedGateway{Memory: paygateway.NewMemory("https://pay.test")},
		appts:    newFakeAppointments(),
		dir:      newFakeDirectory(),
		intents:  newFakeIntents(),
		notifier: &fakeNotifier{},
		mirrors:  &fakeMirrors{},
	}
	h.orch = New(Config{
		SuccessURL: "https://app.test/payment/return",
		CancelURL:  "https://app.test/payment/cancel",
	}, Deps{
		Gateway:      h.gateway,
		Intents:      h.intents,
		Appointments: h.appts,
		Directory:    h.dir,
		Mirrors:      h.mirrors,
		Notifier:     h.notifier,
		Logger:       slog.New(slog.NewTextHandler(io.Discard, nil)),
	},
		WithClock(func() time.Time { return testNow }),
		WithSleep(func(ctx context.Context, d time.Duration) error {
			h.sleeps = append(h.sleeps, d)
			return ctx.Err()
		}),
	)
	return h
}

var patientActor = auth.Actor{ID: "pat-1", Role: auth.RolePatient}

func validRequest() BookingRequest {
	return BookingRequest{ClinicID: "cli-1", Date: "2024-03-05", Time: "09:30", Type: "consultation", Notes: "fever"}
}

// checkout opens a session for patient and marks it with status at the processor.
func (h *harness) checkout(t *testing.T, status paygateway.Status) Checkout {
	t.Helper()
	c, err := h.orch.CreateCheckoutSession(context.Background(), patientActor, validRequest())
	if err != nil {
		t.Fatalf("checkout: %v", err)
	}
	if err := h.gateway.SetStatus(c.SessionID, status); err != nil {
		t.Fatalf("set status: %v", err)
	}
	return c
}
