// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

package service

import (
	"sync"

	"github.com/akamensky/base58"
	"github.com/google/uuid"

	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

// IdentityResolver maps heterogeneous event identifiers (token subject id,
// platform participant id, email) to one canonical participant identity per
// meeting. Every raw identifier observed for a canonical identity is memoized
// for the life of the meeting, so a later event arriving under a different
// identifier for the same human still lands on the same session state.
type IdentityResolver struct {
	mu       sync.Mutex
	meetings map[string]*identityTable
}

type identityTable struct {
	byTokenSubject  map[string]string
	byParticipantID map[string]string
	byEmail         map[string]string
}

// Resolution is the outcome of resolving a raw event identity.
type Resolution struct {
	CanonicalID string
	// Unidentified is set when no identifying field existed and a synthetic
	// id was fabricated; the session is still tracked but never matched to
	// the roster.
	Unidentified bool
	// Minted is set when this resolution created the canonical identity.
	Minted bool
}

// NewIdentityResolver creates a new identity resolver.
func NewIdentityResolver() *IdentityResolver {
	return &IdentityResolver{
		meetings: make(map[string]*identityTable),
	}
}

// Resolve maps the raw identifiers of an event to the canonical identity for
// the meeting, minting a new one when nothing matches. Resolution order:
// token subject id, then platform participant id, then case-insensitive email.
func (r *IdentityResolver) Resolve(meetingUID string, ids models.RawIdentifiers) Resolution {
	r.mu.Lock()
	defer r.mu.Unlock()

	table := r.meetings[meetingUID]
	if table == nil {
		table = &identityTable{
			byTokenSubject:  make(map[string]string),
			byParticipantID: make(map[string]string),
			byEmail:         make(map[string]string),
		}
		r.meetings[meetingUID] = table
	}

	email := ids.NormalizedEmail()

	var canonicalID string
	if ids.TokenSubjectID != "" {
		canonicalID = table.byTokenSubject[ids.TokenSubjectID]
	}
	if canonicalID == "" && ids.PlatformParticipantID != "" {
		canonicalID = table.byParticipantID[ids.PlatformParticipantID]
	}
	if canonicalID == "" && email != "" {
		canonicalID = table.byEmail[email]
	}

	resolution := Resolution{CanonicalID: canonicalID}

	if canonicalID == "" {
		minted := mintCanonicalID(ids, email)
		canonicalID = minted.CanonicalID
		resolution = minted
	}

	// Memoize every raw identifier we saw against the canonical id so any
	// later alias resolves to the same state.
	if ids.TokenSubjectID != "" {
		table.byTokenSubject[ids.TokenSubjectID] = canonicalID
	}
	if ids.PlatformParticipantID != "" {
		table.byParticipantID[ids.PlatformParticipantID] = canonicalID
	}
	if email != "" {
		table.byEmail[email] = canonicalID
	}

	resolution.CanonicalID = canonicalID
	return resolution
}

// Forget releases the memo table for a meeting once it has terminated.
func (r *IdentityResolver) Forget(meetingUID string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.meetings, meetingUID)
}

// mintCanonicalID picks the canonical id for a newly seen participant,
// preferring token subject id over platform participant id over email. When
// no identifying field exists a synthetic id is fabricated and the identity
// is flagged unidentified.
func mintCanonicalID(ids models.RawIdentifiers, email string) Resolution {
	switch {
	case ids.TokenSubjectID != "":
		return Resolution{CanonicalID: ids.TokenSubjectID, Minted: true}
	case ids.PlatformParticipantID != "":
		return Resolution{CanonicalID: ids.PlatformParticipantID, Minted: true}
	case email != "":
		return Resolution{CanonicalID: email, Minted: true}
	default:
		id := uuid.New()
		return Resolution{
			CanonicalID:  "anon-" + base58.Encode(id[:]),
			Unidentified: true,
			Minted:       true,
		}
	}
}
