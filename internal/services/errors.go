// Package services defines the business logic for credential handling, batch
// link shortening, and message routing.
// This file centralizes common service-level error values so that they can be
// consistently returned by service methods and checked by callers.
//
// Translation into chat replies or HTTP status codes is performed by the
// Router and the handler layer respectively.
package services

import "errors"

var (
	// ErrMissingCredential indicates that the chat has no stored credential.
	// No remote call is made when this is returned.
	ErrMissingCredential = errors.New("credential not set")

	// ErrBatchEmpty is returned by list mode when every candidate failed.
	ErrBatchEmpty = errors.New("no url could be shortened")

	// ErrNoCandidates is returned by rewrite mode when the text holds no URL.
	ErrNoCandidates = errors.New("no url candidates found")

	// ErrEmptyCredential is returned when a blank credential is submitted.
	ErrEmptyCredential = errors.New("credential is empty")
)
