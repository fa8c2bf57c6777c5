package directory

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/carelink/portal/internal/domain/conversation"
)

// -- Mocks --

type mockProfiles struct {
	profiles map[uuid.UUID]*Profile
}

func newMockProfiles() *mockProfiles {
	return &mockProfiles{profiles: make(map[uuid.UUID]*Profile)}
}

func (m *mockProfiles) add(role, name string) *Profile {
	p := &Profile{ID: uuid.New(), Role: role, FullName: name}
	m.profiles[p.ID] = p
	return p
}

func (m *mockProfiles) GetByID(_ context.Context, id uuid.UUID) (*Profile, error) {
	p, ok := m.profiles[id]
	if !ok {
		return nil, ErrNotFound
	}
	return p, nil
}

func (m *mockProfiles) ListByIDs(_ context.Context, ids []uuid.UUID) ([]*Profile, error) {
	var out []*Profile
	for _, id := range ids {
		if p, ok := m.profiles[id]; ok {
			out = append(out, p)
		}
	}
	return out, nil
}

func (m *mockProfiles) ListByRole(_ context.Context, role string) ([]*Profile, error) {
	var out []*Profile
	for _, p := range m.profiles {
		if p.Role == role {
			out = append(out, p)
		}
	}
	return out, nil
}

type mockRelations struct {
	ids []uuid.UUID
	err error
}

func (m *mockRelations) CounterpartIDs(_ context.Context, _ uuid.UUID, _ string) ([]uuid.UUID, error) {
	return m.ids, m.err
}

type mockPreviews struct {
	latest map[conversation.Key]*conversation.Message
	fail   map[conversation.Key]bool
}

func newMockPreviews() *mockPreviews {
	return &mockPreviews{
		latest: make(map[conversation.Key]*conversation.Message),
		fail:   make(map[conversation.Key]bool),
	}
}

func (m *mockPreviews) Latest(_ context.Context, key conversation.Key) (*conversation.Message, error) {
	if m.fail[key] {
		return nil, errors.New("connection refused")
	}
	return m.latest[key], nil
}

// -- Fixture --

type directoryFixture struct {
	profiles  *mockProfiles
	relations *mockRelations
	previews  *mockPreviews
	service   *Service
	patient   uuid.UUID
}

func newDirectoryFixture() *directoryFixture {
	f := &directoryFixture{
		profiles:  newMockProfiles(),
		relations: &mockRelations{},
		previews:  newMockPreviews(),
		patient:   uuid.New(),
	}
	f.service = NewService(f.profiles, f.relations, f.previews, zerolog.Nop())
	return f
}

func (f *directoryFixture) setLatest(contactID uuid.UUID, fromContact bool, body string, at time.Time, read bool) {
	key := conversation.NewKey(f.patient, contactID)
	sender, receiver := contactID, f.patient
	if !fromContact {
		sender, receiver = f.patient, contactID
	}
	m := &conversation.Message{
		ID:         uuid.NewString(),
		SenderID:   sender,
		ReceiverID: receiver,
		Body:       body,
		CreatedAt:  at,
	}
	if read {
		stamp := at.Add(time.Minute)
		m.ReadAt = &stamp
	}
	f.previews.latest[key] = m
}

func ts(min int) time.Time {
	return time.Date(2025, 6, 1, 12, min, 0, 0, time.UTC)
}

// -- Tests --

func TestBuild_UsesAppointmentCounterparts(t *testing.T) {
	f := newDirectoryFixture()
	linked := f.profiles.add(RoleDoctor, "Dr. Adams")
	f.profiles.add(RoleDoctor, "Dr. Ziegler") // no shared appointment
	f.relations.ids = []uuid.UUID{linked.ID}

	contacts, err := f.service.Build(context.Background(), f.patient, RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contacts) != 1 || contacts[0].ID != linked.ID {
		t.Errorf("only appointment counterparts belong in the directory: %+v", contacts)
	}
}

// Specialty and avatar are optional profile columns; a doctor carries them
// through and a bare profile ships with both unset.
func TestBuild_CarriesOptionalProfileFields(t *testing.T) {
	f := newDirectoryFixture()
	specialty := "Cardiology"
	withFields := f.profiles.add(RoleDoctor, "Dr. Adams")
	withFields.Specialty = &specialty
	bare := f.profiles.add(RoleDoctor, "Dr. Baker")
	f.relations.ids = []uuid.UUID{withFields.ID, bare.ID}

	contacts, err := f.service.Build(context.Background(), f.patient, RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := make(map[uuid.UUID]*Contact)
	for _, c := range contacts {
		byID[c.ID] = c
	}
	if got := byID[withFields.ID].Specialty; got == nil || *got != specialty {
		t.Errorf("expected specialty %q carried through, got %v", specialty, got)
	}
	if byID[bare.ID].Specialty != nil || byID[bare.ID].AvatarURL != nil {
		t.Error("a profile without optional fields keeps them unset")
	}
}

func TestBuild_FallsBackToRoleListing(t *testing.T) {
	f := newDirectoryFixture()
	f.profiles.add(RoleDoctor, "Dr. Adams")
	f.profiles.add(RoleDoctor, "Dr. Baker")
	f.profiles.add(RolePatient, "Pat Jones")

	contacts, err := f.service.Build(context.Background(), f.patient, RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(contacts) != 2 {
		t.Fatalf("expected every doctor when no appointments exist, got %d", len(contacts))
	}
	for _, c := range contacts {
		if c.Role != RoleDoctor {
			t.Errorf("patient directory must only hold doctors, got %s", c.Role)
		}
	}
}

func TestBuild_SortsByLatestExchange(t *testing.T) {
	f := newDirectoryFixture()
	quiet := f.profiles.add(RoleDoctor, "Dr. Quiet")
	older := f.profiles.add(RoleDoctor, "Dr. Older")
	recent := f.profiles.add(RoleDoctor, "Dr. Recent")
	f.relations.ids = []uuid.UUID{quiet.ID, older.ID, recent.ID}

	f.setLatest(older.ID, true, "checkup due", ts(5), true)
	f.setLatest(recent.ID, true, "results in", ts(30), true)

	contacts, err := f.service.Build(context.Background(), f.patient, RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	got := []uuid.UUID{contacts[0].ID, contacts[1].ID, contacts[2].ID}
	want := []uuid.UUID{recent.ID, older.ID, quiet.ID}
	for i := range want {
		if got[i] != want[i] {
			t.Fatalf("order mismatch at %d: %+v", i, contacts)
		}
	}
}

func TestBuild_UnreadFlag(t *testing.T) {
	f := newDirectoryFixture()
	unreadDoc := f.profiles.add(RoleDoctor, "Dr. Unread")
	readDoc := f.profiles.add(RoleDoctor, "Dr. Read")
	ownTurn := f.profiles.add(RoleDoctor, "Dr. Waiting")
	f.relations.ids = []uuid.UUID{unreadDoc.ID, readDoc.ID, ownTurn.ID}

	f.setLatest(unreadDoc.ID, true, "new results", ts(10), false)
	f.setLatest(readDoc.ID, true, "old results", ts(11), true)
	f.setLatest(ownTurn.ID, false, "thanks doctor", ts(12), false)

	contacts, err := f.service.Build(context.Background(), f.patient, RolePatient)
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	byID := make(map[uuid.UUID]*Contact)
	for _, c := range contacts {
		byID[c.ID] = c
	}
	if !byID[unreadDoc.ID].Unread {
		t.Error("unread incoming message should flag the contact")
	}
	if byID[readDoc.ID].Unread {
		t.Error("a read message must not flag the contact")
	}
	if byID[ownTurn.ID].Unread {
		t.Error("the actor's own outgoing message never flags the contact")
	}
}

// Scenario: one preview fetch fails; that contact ships without a preview
// and the rest of the directory is unaffected.
func TestBuild_PreviewFailureDegradesOneContact(t *testing.T) {
	f := newDirectoryFixture()
	ok1 := f.profiles.add(RoleDoctor, "Dr. Adams")
	broken := f.profiles.add(RoleDoctor, "Dr. Broken")
	ok2 := f.profiles.add(RoleDoctor, "Dr. Clark")
	f.relations.ids = []uuid.UUID{ok1.ID, broken.ID, ok2.ID}

	f.setLatest(ok1.ID, true, "hello", ts(1), true)
	f.setLatest(ok2.ID, true, "hi", ts(2), true)
	f.previews.fail[conversation.NewKey(f.patient, broken.ID)] = true

	contacts, err := f.service.Build(context.Background(), f.patient, RolePatient)
	if err != nil {
		t.Fatalf("one broken preview must not fail the directory: %v", err)
	}
	if len(contacts) != 3 {
		t.Fatalf("expected all three contacts, got %d", len(contacts))
	}

	for _, c := range contacts {
		if c.ID == broken.ID {
			if c.LastMessageBody != "" || c.LastMessageAt != nil {
				t.Error("broken preview should leave the contact bare")
			}
		} else if c.LastMessageBody == "" {
			t.Errorf("contact %s should keep its preview", c.FullName)
		}
	}
}

func TestBuild_CounterpartLookupFailure(t *testing.T) {
	f := newDirectoryFixture()
	f.relations.err = errors.New("connection refused")

	if _, err := f.service.Build(context.Background(), f.patient, RolePatient); err == nil {
		t.Error("relationship failure should fail the build")
	}
}

func TestBuild_UnknownRole(t *testing.T) {
	f := newDirectoryFixture()
	if _, err := f.service.Build(context.Background(), f.patient, "admin"); err == nil {
		t.Error("expected error for unknown role")
	}
}
