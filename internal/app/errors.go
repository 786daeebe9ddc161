package app

import "errors"

var (
	ErrUnauthenticated   = errors.New("unauthenticated")
	ErrInvalidInput      = errors.New("invalid input")
	ErrUsernameExists    = errors.New("username already exists")
	ErrEmailExists       = errors.New("email already exists")
	ErrInvalidCredential = errors.New("invalid username or password")

	ErrMessageEmpty = errors.New("message content is empty")
	// ErrConversationNotFound covers both a missing conversation and one owned
	// by somebody else.
	ErrConversationNotFound = errors.New("conversation not found or access denied")
	ErrNoRecentHumanMessage = errors.New("no recent human message to answer")
	ErrTurnInProgress       = errors.New("another turn is already being generated for this conversation")

	ErrIngestionFailed  = errors.New("document ingestion failed")
	ErrGenerationFailed = errors.New("answer generation failed")
)
