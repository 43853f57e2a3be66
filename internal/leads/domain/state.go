// Package domain provides core business rules for the leads bounded context.
package domain

import "fmt"

// Status is the lifecycle state of a lead in the funnel.
type Status string

const (
	StatusNew            Status = "NEW"
	StatusQualifying     Status = "QUALIFYING"
	StatusWaitingConsent Status = "WAITING_CONSENT"
	StatusPhotoRequested Status = "PHOTO_REQUESTED"
	StatusPhotoCollecting Status = "PHOTO_COLLECTING"
	StatusPhotoQAFix     Status = "PHOTO_QA_FIX"
	StatusReadyForDoctor Status = "READY_FOR_DOCTOR"
	StatusReadyForSales  Status = "READY_FOR_SALES"
	StatusWaitingForUser Status = "WAITING_FOR_USER"
	StatusDormant        Status = "DORMANT"
	StatusHandoffHuman   Status = "HANDOFF_HUMAN"
	StatusConverted      Status = "CONVERTED"
	StatusClosed         Status = "CLOSED"
)

// EventType is a funnel event that may move a lead between statuses.
type EventType string

const (
	EventMessageReceived     EventType = "MESSAGE_RECEIVED"
	EventPhotoReceived       EventType = "PHOTO_RECEIVED"
	EventQualifyingComplete  EventType = "QUALIFYING_COMPLETE"
	EventMedicalComplete     EventType = "MEDICAL_COMPLETE"
	EventPhotosComplete      EventType = "PHOTOS_COMPLETE"
	EventPhotosDeclined      EventType = "PHOTOS_DECLINED"
	EventPhotosNeedFix       EventType = "PHOTOS_NEED_FIX"
	EventPhotosFixed         EventType = "PHOTOS_FIXED"
	EventFollowupSent        EventType = "FOLLOWUP_SENT"
	EventMaxFollowupsReached EventType = "MAX_FOLLOWUPS_REACHED"
	EventHandoffRequested    EventType = "HANDOFF_REQUESTED"
	EventDoctorApproved      EventType = "DOCTOR_APPROVED"
	EventSalesOfferSent      EventType = "SALES_OFFER_SENT"
	EventConverted           EventType = "CONVERTED"
	EventClosedByUser        EventType = "CLOSED_BY_USER"
	EventClosedByAdmin       EventType = "CLOSED_BY_ADMIN"
)

// Context carries the lead facts that transition guards evaluate.
type Context struct {
	ConsentGranted   bool
	TreatmentKnown   bool
	MedicalComplete  bool
	UploadedPhotos   int
	RequiredPhotos   int
}

// rule is one row of the transition table. Sources is the set of statuses the
// rule applies to; Guard may be nil. The first matching rule wins; a rule
// whose guard fails is skipped, never retried with a relaxed guard.
type rule struct {
	Sources []Status
	Event   EventType
	Guard   func(Context) bool
	Target  Status
}

func hasEnoughPhotos(ctx Context) bool {
	required := ctx.RequiredPhotos
	if required <= 0 {
		required = 1
	}
	return ctx.UploadedPhotos >= required
}

// activeStatuses are every status a live conversation can be in. Handoff and
// close rules fan out over this set so escalation is reachable from anywhere
// that still has a user on the other end.
var activeStatuses = []Status{
	StatusNew, StatusQualifying, StatusWaitingConsent, StatusPhotoRequested,
	StatusPhotoCollecting, StatusPhotoQAFix, StatusReadyForDoctor,
	StatusReadyForSales, StatusWaitingForUser, StatusDormant,
}

var transitionTable = []rule{
	// An inbound message resurrects idle leads into qualification. These are
	// the only statuses a plain message moves; everything else is driven by
	// explicit funnel events.
	{Sources: []Status{StatusNew, StatusDormant, StatusWaitingForUser}, Event: EventMessageReceived, Target: StatusQualifying},
	// A non-photo reply while we are waiting for photos drops back to
	// qualification; the user has something else to say first.
	{Sources: []Status{StatusPhotoRequested, StatusPhotoCollecting}, Event: EventMessageReceived, Target: StatusQualifying},

	{Sources: []Status{StatusPhotoRequested, StatusPhotoCollecting}, Event: EventPhotoReceived, Target: StatusPhotoCollecting},
	{Sources: []Status{StatusPhotoQAFix}, Event: EventPhotoReceived, Target: StatusPhotoQAFix},

	{Sources: []Status{StatusQualifying}, Event: EventQualifyingComplete, Guard: func(ctx Context) bool { return ctx.ConsentGranted && ctx.TreatmentKnown }, Target: StatusPhotoRequested},
	{Sources: []Status{StatusQualifying}, Event: EventMedicalComplete, Guard: func(ctx Context) bool { return ctx.MedicalComplete }, Target: StatusPhotoRequested},

	{Sources: []Status{StatusPhotoCollecting}, Event: EventPhotosComplete, Guard: hasEnoughPhotos, Target: StatusReadyForDoctor},
	{Sources: []Status{StatusPhotoRequested, StatusPhotoCollecting}, Event: EventPhotosDeclined, Target: StatusReadyForSales},
	{Sources: []Status{StatusPhotoCollecting, StatusReadyForDoctor}, Event: EventPhotosNeedFix, Target: StatusPhotoQAFix},
	{Sources: []Status{StatusPhotoQAFix}, Event: EventPhotosFixed, Guard: hasEnoughPhotos, Target: StatusReadyForDoctor},

	{Sources: []Status{StatusQualifying, StatusPhotoRequested, StatusPhotoCollecting, StatusPhotoQAFix, StatusReadyForSales, StatusWaitingForUser}, Event: EventFollowupSent, Target: StatusWaitingForUser},
	{Sources: []Status{StatusQualifying, StatusPhotoRequested, StatusPhotoCollecting, StatusPhotoQAFix, StatusWaitingForUser}, Event: EventMaxFollowupsReached, Target: StatusDormant},

	{Sources: activeStatuses, Event: EventHandoffRequested, Target: StatusHandoffHuman},

	{Sources: []Status{StatusReadyForDoctor}, Event: EventDoctorApproved, Target: StatusReadyForSales},
	{Sources: []Status{StatusReadyForSales}, Event: EventSalesOfferSent, Target: StatusWaitingForUser},

	// Handoff is not sealed: a human agent can still convert the lead.
	{Sources: []Status{StatusReadyForSales, StatusWaitingForUser, StatusHandoffHuman}, Event: EventConverted, Target: StatusConverted},

	{Sources: activeStatuses, Event: EventClosedByUser, Target: StatusClosed},
	{Sources: append(activeStatuses, StatusHandoffHuman), Event: EventClosedByAdmin, Target: StatusClosed},
}

// ErrNoTransition is returned when no rule matches. The caller must leave the
// lead's status untouched.
type ErrNoTransition struct {
	From  Status
	Event EventType
}

func (e *ErrNoTransition) Error() string {
	return fmt.Sprintf("no transition from %s on %s", e.From, e.Event)
}

// Transition evaluates the rule table for (current, event, ctx) and returns
// the next status. Pure: no persistence, no side effects.
func Transition(current Status, event EventType, ctx Context) (Status, error) {
	for _, r := range transitionTable {
		if r.Event != event {
			continue
		}
		if !containsStatus(r.Sources, current) {
			continue
		}
		if r.Guard != nil && !r.Guard(ctx) {
			continue
		}
		return r.Target, nil
	}
	return current, &ErrNoTransition{From: current, Event: event}
}

func containsStatus(set []Status, s Status) bool {
	for _, candidate := range set {
		if candidate == s {
			return true
		}
	}
	return false
}

// terminalStatuses are statuses where no further automated outreach may occur.
var terminalStatuses = map[Status]bool{
	StatusConverted:    true,
	StatusClosed:       true,
	StatusHandoffHuman: true,
}

// IsTerminal returns true if the lead must not be processed by the follow-up
// scheduler or any AI stage. HANDOFF_HUMAN counts as terminal for automation
// even though a human can still convert it.
func IsTerminal(status Status) bool {
	return terminalStatuses[status]
}
