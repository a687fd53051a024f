package domain

import "errors"

var (
	// ErrUnparsable is returned when no normalizer tier could recover a
	// usable message from the agent reply.
	ErrUnparsable = errors.New("could not parse agent response")
	// ErrBusy is returned when an action is rejected because a prior agent
	// call is still in flight.
	ErrBusy = errors.New("agent call already in flight")
	// ErrEmptyTopic is returned when Start is invoked without a topic.
	ErrEmptyTopic = errors.New("topic must not be empty")
	// ErrEmptyAnswer is returned when SubmitAnswer is invoked with blank text.
	ErrEmptyAnswer = errors.New("answer must not be empty")
	// ErrQuizComplete is returned when an answer arrives after the quiz ended.
	ErrQuizComplete = errors.New("quiz already complete")
	// ErrNoFinalResult is returned when a scorecard is requested before the
	// quiz has produced a terminal result.
	ErrNoFinalResult = errors.New("no final result yet")
	// ErrBadTransition is returned for screen transitions outside
	// home -> quiz -> scorecard -> home.
	ErrBadTransition = errors.New("illegal screen transition")
	// ErrNoArtifact indicates the scorecard agent succeeded without
	// producing an image artifact.
	ErrNoArtifact = errors.New("scorecard generated without artifact")
)
