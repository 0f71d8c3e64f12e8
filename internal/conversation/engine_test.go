package conversation

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/repliq-ai/receptionist/internal/business"
	"github.com/repliq-ai/receptionist/internal/entitlement"
	"github.com/repliq-ai/receptionist/internal/nlu"
	"github.com/repliq-ai/receptionist/internal/phrases"
	"github.com/repliq-ai/receptionist/internal/scheduling"
	"github.com/repliq-ai/receptionist/internal/session"
	"github.com/repliq-ai/receptionist/internal/timeparse"
	"github.com/repliq-ai/receptionist/pkg/logging"
)

// scriptedExtractor returns its guesses in order, then zero guesses.
type scriptedExtractor struct {
	mu      sync.Mutex
	guesses []nlu.Guess
	calls   int
}

func (s *scriptedExtractor) Extract(context.Context, string, *business.Profile, string) nlu.Guess {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if len(s.guesses) == 0 {
		return nlu.Guess{}
	}
	g := s.guesses[0]
	s.guesses = s.guesses[1:]
	return g
}

// panicExtractor proves a code path never reaches extraction.
type panicExtractor struct{}

func (panicExtractor) Extract(context.Context, string, *business.Profile, string) nlu.Guess {
	panic("extractor must not be called")
}

type createdEvent struct {
	start   time.Time
	summary string
}

// fakeOracle reports busy for the starts in its busy set and records writes.
type fakeOracle struct {
	mu        sync.Mutex
	busy      map[int64]bool
	busyErr   error
	createErr error
	created   []createdEvent
}

func newFakeOracle(busyStarts ...time.Time) *fakeOracle {
	o := &fakeOracle{busy: make(map[int64]bool)}
	for _, s := range busyStarts {
		o.busy[s.Unix()] = true
	}
	return o
}

func (o *fakeOracle) IsBusy(_ context.Context, start, _ time.Time) (bool, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.busyErr != nil {
		return false, o.busyErr
	}
	return o.busy[start.Unix()], nil
}

func (o *fakeOracle) CreateEvent(_ context.Context, start, _ time.Time, summary, _ string) (string, error) {
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.createErr != nil {
		return "", o.createErr
	}
	o.created = append(o.created, createdEvent{start: start, summary: summary})
	return fmt.Sprintf("evt_%d", len(o.created)), nil
}

func (o *fakeOracle) events() []createdEvent {
	o.mu.Lock()
	defer o.mu.Unlock()
	out := make([]createdEvent, len(o.created))
	copy(out, o.created)
	return out
}

var bizLoc = time.FixedZone("UTC+2", 2*3600)

// Monday 2026-03-02 10:00 in the business timezone.
func testRef(p *business.Profile) time.Time {
	return time.Date(2026, time.March, 2, 10, 0, 0, 0, p.Location)
}

func newTestEngine(t *testing.T, ex nlu.Extractor, oracle *fakeOracle, gate entitlement.Gate) (*Engine, *session.Registry, *business.Profile) {
	t.Helper()
	profile, err := business.NewProfile(
		"Salon Riga", "Brivibas 1, Riga", "haircut, coloring",
		"09:00", "18:00", 30, 2, "https://book.example/riga",
	)
	require.NoError(t, err)

	reg := session.NewRegistry(session.NewMemoryStore(), 30*time.Minute, 50, logging.New("error"))
	finder := scheduling.NewFinder(profile.Hours, profile.AppointmentDuration, 96)
	resolver := timeparse.New(profile.Location)

	e := NewEngine(reg, ex, resolver, finder, oracle, gate, profile, phrases.LangEN, nil, logging.New("error"))
	e.now = func() time.Time { return testRef(profile) }
	return e, reg, profile
}

func TestAdvanceCollectsFieldsInPriorityOrder(t *testing.T) {
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{},                   // "hello"
		{Service: "haircut"}, // "a haircut please"
		{TimeText: "tomorrow at 15:30"},
		{Name: "Anna"},
	}}
	oracle := newFakeOracle()
	e, _, p := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000001", Utterance: "hello", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedField, res.Status)
	assert.Equal(t, FieldService, res.MissingField)
	assert.Equal(t, phrases.KeyAskService, res.PromptKey)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000001", Utterance: "a haircut please", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedField, res.Status)
	assert.Equal(t, FieldTime, res.MissingField)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000001", Utterance: "tomorrow at 15:30", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedField, res.Status)
	assert.Equal(t, FieldName, res.MissingField)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000001", Utterance: "Anna", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	assert.True(t, res.EndCall)
	assert.Equal(t, NotifyConfirmation, res.DedupCategory)

	want := time.Date(2026, time.March, 3, 15, 30, 0, 0, p.Location)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))
	assert.True(t, res.BookedStart.Equal(want))
	assert.Equal(t, "evt_1", res.EventRef)
}

func TestAdvanceBooksInTwoTurnsWhenUtteranceIsRich(t *testing.T) {
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "стрижка", TimeText: "завтра в 15:30"},
		{Name: "Анна"},
	}}
	oracle := newFakeOracle()
	e, _, p := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	res, err := e.Advance(ctx, TurnInput{
		Identity: "+37120000002", Utterance: "Хочу записаться на стрижку завтра в 15:30", Channel: ChannelVoice, CallID: "CA1",
	})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedField, res.Status)
	assert.Equal(t, FieldName, res.MissingField)
	assert.Equal(t, phrases.LangRU, res.Language)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000002", Utterance: "Анна", Channel: ChannelVoice, CallID: "CA1"})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	assert.Equal(t, phrases.LangRU, res.Language)
	assert.Equal(t, "Анна", res.MessageParams.Name)
	assert.Equal(t, "стрижка", res.MessageParams.Service)

	want := time.Date(2026, time.March, 3, 15, 30, 0, 0, p.Location)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))
}

func TestAdvanceBooksImmediatelyWhenAllFieldsPresent(t *testing.T) {
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "men's haircut", ISOTime: "2026-03-03T15:10:00+02:00", Name: "John"},
	}}
	oracle := newFakeOracle()
	e, _, _ := newTestEngine(t, ex, oracle, nil)

	res, err := e.Advance(context.Background(), TurnInput{
		Identity: "+37120000020", Utterance: "men's haircut tomorrow at 15:10, John", Channel: ChannelSMS,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	assert.Equal(t, phrases.KeyConfirmed, res.MessageKey)
	assert.Equal(t, "men's haircut", res.MessageParams.Service)
	assert.Equal(t, "John", res.MessageParams.Name)
	assert.Equal(t, "03.03 15:10", res.MessageParams.Time)

	want := time.Date(2026, time.March, 3, 15, 10, 0, 0, bizLoc)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))
}

func TestAdvanceBareTimeDefaultsToToday(t *testing.T) {
	oracle := newFakeOracle()
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", Name: "Anna"},
		{TimeText: "15:10"},
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	_, err := e.Advance(ctx, TurnInput{Identity: "+37120000021", Utterance: "haircut for Anna", Channel: ChannelSMS})
	require.NoError(t, err)

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000021", Utterance: "15:10", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)

	// Reference clock is 10:00 on March 2nd; a bare time lands on that day.
	want := time.Date(2026, time.March, 2, 15, 10, 0, 0, bizLoc)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))
}

func TestAdvanceBusySlotOffersTwoAlternatives(t *testing.T) {
	desired := time.Date(2026, time.March, 3, 15, 0, 0, 0, bizLoc)
	oracle := newFakeOracle(
		desired,
		desired.Add(30*time.Minute),
	)
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)

	res, err := e.Advance(context.Background(), TurnInput{
		Identity: "+37120000003", Utterance: "haircut tomorrow at 15:00, I am Anna", Channel: ChannelSMS,
	})
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, res.Status)
	assert.Equal(t, phrases.KeyBusyOffer, res.PromptKey)
	assert.False(t, res.EndCall)
	assert.Equal(t, "03.03 16:00", res.MessageParams.OptionA)
	assert.Equal(t, "03.03 16:30", res.MessageParams.OptionB)
	assert.Empty(t, oracle.events())
}

func TestAdvanceOfferReplyOneBooksFirstOption(t *testing.T) {
	desired := time.Date(2026, time.March, 3, 15, 0, 0, 0, bizLoc)
	oracle := newFakeOracle(desired)
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000004", Utterance: "haircut tomorrow at 15:00, Anna", Channel: ChannelSMS})
	require.NoError(t, err)
	require.Equal(t, StatusBusy, res.Status)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000004", Utterance: "1", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)

	want := desired.Add(30 * time.Minute)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))
	// The extractor is never consulted for a bare offer reply.
	assert.Equal(t, 1, ex.calls)
}

func TestAdvanceOfferReplyTwoBooksSecondOption(t *testing.T) {
	desired := time.Date(2026, time.March, 3, 15, 0, 0, 0, bizLoc)
	oracle := newFakeOracle(desired)
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	_, err := e.Advance(ctx, TurnInput{Identity: "+37120000005", Utterance: "haircut tomorrow at 15:00, Anna", Channel: ChannelSMS})
	require.NoError(t, err)

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000005", Utterance: "2", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)

	want := desired.Add(time.Hour)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))
}

func TestAdvanceNewTimeSupersedesPendingOffer(t *testing.T) {
	desired := time.Date(2026, time.March, 3, 15, 0, 0, 0, bizLoc)
	oracle := newFakeOracle(desired)
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
		{TimeText: "tomorrow at 12:00"},
	}}
	e, reg, _ := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	_, err := e.Advance(ctx, TurnInput{Identity: "+37120000006", Utterance: "haircut tomorrow at 15:00, Anna", Channel: ChannelSMS})
	require.NoError(t, err)

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000006", Utterance: "better tomorrow at 12:00", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)

	want := time.Date(2026, time.March, 3, 12, 0, 0, 0, bizLoc)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))

	mem, err := reg.PeekMemory(ctx, "+37120000006")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Nil(t, mem.PendingOffer)
}

func TestAdvanceOfferSurvivesUnrelatedUtterance(t *testing.T) {
	desired := time.Date(2026, time.March, 3, 15, 0, 0, 0, bizLoc)
	oracle := newFakeOracle(desired)
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
		{}, // "how long does it take?"
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	_, err := e.Advance(ctx, TurnInput{Identity: "+37120000007", Utterance: "haircut tomorrow at 15:00, Anna", Channel: ChannelSMS})
	require.NoError(t, err)

	// A question without a time keeps the offer alive and re-presents it.
	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000007", Utterance: "how long does it take?", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBusy, res.Status)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000007", Utterance: "1", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
}

func TestAdvanceBareOneWithoutOfferNeverBooks(t *testing.T) {
	oracle := newFakeOracle()
	e, reg, _ := newTestEngine(t, &scriptedExtractor{}, oracle, nil)

	res, err := e.Advance(context.Background(), TurnInput{Identity: "+37120000008", Utterance: "1", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedField, res.Status)
	assert.Equal(t, FieldService, res.MissingField)
	assert.Empty(t, oracle.events())

	mem, err := reg.PeekMemory(context.Background(), "+37120000008")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Nil(t, mem.PendingOffer)
}

func TestAdvanceRecoveryWhenNoAlternativesExist(t *testing.T) {
	// Every slot of every scanned day is busy.
	busy := make([]time.Time, 0, 96)
	cursor := time.Date(2026, time.March, 3, 9, 0, 0, 0, bizLoc)
	for i := 0; i < 200; i++ {
		busy = append(busy, cursor)
		cursor = cursor.Add(30 * time.Minute)
	}
	oracle := newFakeOracle(busy...)
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)

	res, err := e.Advance(context.Background(), TurnInput{Identity: "+37120000009", Utterance: "haircut tomorrow at 15:00, Anna", Channel: ChannelVoice, CallID: "CA9"})
	require.NoError(t, err)
	assert.Equal(t, StatusRecovery, res.Status)
	assert.Equal(t, phrases.KeyRecovery, res.MessageKey)
	assert.Equal(t, NotifyRecovery, res.DedupCategory)
	assert.True(t, res.EndCall)
	assert.Equal(t, "https://book.example/riga", res.MessageParams.Link)
	assert.Empty(t, oracle.events())
}

func TestAdvanceRejectsTimeOutsideWorkingHours(t *testing.T) {
	oracle := newFakeOracle()
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 19:00", Name: "Anna"},
		{TimeText: "tomorrow at 15:00"},
	}}
	e, reg, p := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000010", Utterance: "haircut tomorrow at 19:00, Anna", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedField, res.Status)
	assert.Equal(t, FieldTime, res.MissingField)
	assert.Equal(t, phrases.KeyInvalidTime, res.PromptKey)
	assert.Equal(t, "09:00 - 18:00", res.MessageParams.Hours)

	mem, err := reg.PeekMemory(ctx, "+37120000010")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.False(t, mem.HasResolvedStart())
	assert.Equal(t, "haircut", mem.Service)
	assert.Equal(t, "Anna", mem.ContactName)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000010", Utterance: "tomorrow at 15:00 then", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	want := time.Date(2026, time.March, 3, 15, 0, 0, 0, p.Location)
	require.Len(t, oracle.events(), 1)
	assert.True(t, oracle.events()[0].start.Equal(want))
}

func TestAdvanceLastSlotOfDayIsBookable(t *testing.T) {
	oracle := newFakeOracle()
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 17:30", Name: "Anna"},
	}}
	e, _, p := newTestEngine(t, ex, oracle, nil)

	res, err := e.Advance(context.Background(), TurnInput{Identity: "+37120000011", Utterance: "haircut tomorrow at 17:30, Anna", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	want := time.Date(2026, time.March, 3, 17, 30, 0, 0, p.Location)
	assert.True(t, res.BookedStart.Equal(want))
}

func TestAdvanceConfirmsDespiteCalendarWriteFailure(t *testing.T) {
	oracle := newFakeOracle()
	oracle.createErr = errors.New("calendar: insert event: 503")
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)

	res, err := e.Advance(context.Background(), TurnInput{Identity: "+37120000012", Utterance: "haircut tomorrow at 15:00, Anna", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	assert.Empty(t, res.EventRef)
	assert.Equal(t, phrases.KeyConfirmed, res.MessageKey)
}

func TestAdvanceAvailabilityErrorFailsOpen(t *testing.T) {
	oracle := newFakeOracle()
	oracle.busyErr = errors.New("calendar: freebusy: timeout")
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00", Name: "Anna"},
	}}
	e, _, _ := newTestEngine(t, ex, oracle, nil)

	res, err := e.Advance(context.Background(), TurnInput{Identity: "+37120000013", Utterance: "haircut tomorrow at 15:00, Anna", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
}

func TestAdvanceStoredTimeStaysPutAcrossTimelessTurns(t *testing.T) {
	oracle := newFakeOracle()
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "haircut", TimeText: "tomorrow at 15:00"},
		{}, // small talk
		{Name: "Anna"},
	}}
	e, _, p := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	_, err := e.Advance(ctx, TurnInput{Identity: "+37120000014", Utterance: "haircut tomorrow at 15:00", Channel: ChannelSMS})
	require.NoError(t, err)

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000014", Utterance: "do you take cards?", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, FieldName, res.MissingField)

	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000014", Utterance: "Anna", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	want := time.Date(2026, time.March, 3, 15, 0, 0, 0, p.Location)
	assert.True(t, res.BookedStart.Equal(want))
}

func TestAdvanceLanguageSticksOnceDetected(t *testing.T) {
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "стрижка"},
		{},
	}}
	e, _, _ := newTestEngine(t, ex, newFakeOracle(), nil)
	ctx := context.Background()

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000015", Utterance: "Здравствуйте, нужна стрижка", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, phrases.LangRU, res.Language)

	// A bare digit must not re-run detection.
	res, err = e.Advance(ctx, TurnInput{Identity: "+37120000015", Utterance: "1", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, phrases.LangRU, res.Language)
}

func TestAdvanceLanguageHintOverridesDetection(t *testing.T) {
	e, reg, _ := newTestEngine(t, &scriptedExtractor{}, newFakeOracle(), nil)
	ctx := context.Background()

	res, err := e.Advance(ctx, TurnInput{
		Identity: "+37120000016", Utterance: "hello", Channel: ChannelVoice, CallID: "CA16", LanguageHint: "lv",
	})
	require.NoError(t, err)
	assert.Equal(t, phrases.LangLV, res.Language)

	mem, err := reg.PeekMemory(ctx, "+37120000016")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "lv", mem.Language)
}

func TestAdvanceWhatsAppAndSMSShareOneSession(t *testing.T) {
	oracle := newFakeOracle()
	ex := &scriptedExtractor{guesses: []nlu.Guess{
		{Service: "coloring", TimeText: "tomorrow at 11:00"},
		{Name: "Laura"},
	}}
	e, _, p := newTestEngine(t, ex, oracle, nil)
	ctx := context.Background()

	_, err := e.Advance(ctx, TurnInput{Identity: "whatsapp:+37120000017", Utterance: "coloring tomorrow at 11:00", Channel: ChannelChat})
	require.NoError(t, err)

	res, err := e.Advance(ctx, TurnInput{Identity: "+37120000017", Utterance: "Laura", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusBooked, res.Status)
	want := time.Date(2026, time.March, 3, 11, 0, 0, 0, p.Location)
	assert.True(t, res.BookedStart.Equal(want))
}

func TestAdvanceDeniedTenantShortCircuits(t *testing.T) {
	gate := entitlement.NewStaticGate(false, time.Time{}, "trial_expired")
	oracle := newFakeOracle()
	e, reg, _ := newTestEngine(t, panicExtractor{}, oracle, gate)

	res, err := e.Advance(context.Background(), TurnInput{Identity: "+37120000018", Utterance: "haircut tomorrow at 15:00", Channel: ChannelSMS})
	require.NoError(t, err)
	assert.Equal(t, StatusUnavailable, res.Status)
	assert.Equal(t, phrases.KeyUnavailable, res.MessageKey)
	assert.True(t, res.EndCall)
	assert.Empty(t, oracle.events())

	// The denied turn must leave no session behind.
	mem, err := reg.PeekMemory(context.Background(), "+37120000018")
	require.NoError(t, err)
	assert.Nil(t, mem)
}

func TestAdvancePhoneAutoFilledFromIdentity(t *testing.T) {
	ex := &scriptedExtractor{guesses: []nlu.Guess{{Service: "haircut"}}}
	e, reg, _ := newTestEngine(t, ex, newFakeOracle(), nil)
	ctx := context.Background()

	_, err := e.Advance(ctx, TurnInput{Identity: "whatsapp:+371 2000-0019", Utterance: "haircut", Channel: ChannelChat})
	require.NoError(t, err)

	mem, err := reg.PeekMemory(ctx, "+37120000019")
	require.NoError(t, err)
	require.NotNil(t, mem)
	assert.Equal(t, "+37120000019", mem.Phone)
}

func TestAdvanceMissingIdentityDegradesToStatelessTurn(t *testing.T) {
	ex := &scriptedExtractor{}
	e, _, _ := newTestEngine(t, ex, newFakeOracle(), nil)

	res, err := e.Advance(context.Background(), TurnInput{Identity: "anonymous", Utterance: "hello", Channel: ChannelVoice})
	require.NoError(t, err)
	assert.Equal(t, StatusNeedField, res.Status)
	assert.Equal(t, FieldService, res.MissingField)
}
