// Package introflow drives a buyer through follow-bot, follow-seller and
// show-interest for a single listing.
package introflow

import (
	"errors"
	"fmt"
)

// State is the display step of the flow for one buyer/listing pair.
type State int

const (
	StateLoading State = iota
	StateOwnListing
	StateFollowBot
	StateFollowSeller
	StateReady
	StateSending
	StateSent
)

var stateNames = map[State]string{
	StateLoading:      "loading",
	StateOwnListing:   "own-listing",
	StateFollowBot:    "follow-bot",
	StateFollowSeller: "follow-seller",
	StateReady:        "ready",
	StateSending:      "sending",
	StateSent:         "sent",
}

func (s State) String() string {
	if name, ok := stateNames[s]; ok {
		return name
	}
	return fmt.Sprintf("state(%d)", int(s))
}

// Terminal reports whether no further transition is possible.
func (s State) Terminal() bool {
	return s == StateOwnListing || s == StateSent
}

// Event moves the flow between states.
type Event int

const (
	// EventOwnListing means the buyer authored the listing.
	EventOwnListing Event = iota
	// EventAlreadySent means the persisted sent flag was found.
	EventAlreadySent
	// EventNeedBot means the buyer does not follow the bot.
	EventNeedBot
	// EventNeedSeller means the buyer follows the bot but not the seller.
	EventNeedSeller
	// EventFollowsAll means both follows are in place.
	EventFollowsAll
	EventSubmit
	EventSucceeded
	EventFailed
)

var eventNames = map[Event]string{
	EventOwnListing:  "own-listing",
	EventAlreadySent: "already-sent",
	EventNeedBot:     "need-bot",
	EventNeedSeller:  "need-seller",
	EventFollowsAll:  "follows-all",
	EventSubmit:      "submit",
	EventSucceeded:   "succeeded",
	EventFailed:      "failed",
}

func (e Event) String() string {
	if name, ok := eventNames[e]; ok {
		return name
	}
	return fmt.Sprintf("event(%d)", int(e))
}

// ErrIllegalTransition is matched by every TransitionError.
var ErrIllegalTransition = errors.New("illegal flow transition")

// TransitionError reports an event that is not valid in the current state.
type TransitionError struct {
	From  State
	Event Event
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("illegal flow transition: %s on %s", e.Event, e.From)
}

func (e *TransitionError) Is(target error) bool {
	return target == ErrIllegalTransition
}

var transitions = map[State]map[Event]State{
	StateLoading: {
		EventOwnListing:  StateOwnListing,
		EventAlreadySent: StateSent,
		EventNeedBot:     StateFollowBot,
		EventNeedSeller:  StateFollowSeller,
		EventFollowsAll:  StateReady,
	},
	StateFollowBot: {
		EventNeedSeller: StateFollowSeller,
		EventFollowsAll: StateReady,
	},
	StateFollowSeller: {
		EventFollowsAll: StateReady,
	},
	StateReady: {
		EventSubmit: StateSending,
	},
	StateSending: {
		EventSucceeded: StateSent,
		EventFailed:    StateReady,
	},
}

// Next returns the state reached from s on e.
func Next(s State, e Event) (State, error) {
	if to, ok := transitions[s][e]; ok {
		return to, nil
	}
	return s, &TransitionError{From: s, Event: e}
}

// Snapshot holds the facts the display state is computed from.
type Snapshot struct {
	Loaded        bool
	OwnListing    bool
	FollowsBot    bool
	FollowsSeller bool
	InterestSent  bool
}

// Derive computes the display state. Own listing wins over everything,
// and a persisted sent flag wins over missing follows.
func Derive(s Snapshot) State {
	switch {
	case s.OwnListing:
		return StateOwnListing
	case !s.Loaded:
		return StateLoading
	case s.InterestSent:
		return StateSent
	case !s.FollowsBot:
		return StateFollowBot
	case !s.FollowsSeller:
		return StateFollowSeller
	default:
		return StateReady
	}
}

// loadEvent maps a loaded snapshot to the event leaving StateLoading.
func loadEvent(s Snapshot) Event {
	switch Derive(Snapshot{
		Loaded:        true,
		OwnListing:    s.OwnListing,
		FollowsBot:    s.FollowsBot,
		FollowsSeller: s.FollowsSeller,
		InterestSent:  s.InterestSent,
	}) {
	case StateOwnListing:
		return EventOwnListing
	case StateSent:
		return EventAlreadySent
	case StateFollowBot:
		return EventNeedBot
	case StateFollowSeller:
		return EventNeedSeller
	default:
		return EventFollowsAll
	}
}
