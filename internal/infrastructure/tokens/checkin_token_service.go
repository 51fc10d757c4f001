// Copyright The Linux Foundation and each contributor to LFX.
// SPDX-License-Identifier: MIT

// Package tokens issues and verifies the signed tokens participants present
// when checking in to a meeting.
package tokens

import (
	"fmt"
	"time"

	"github.com/golang-jwt/jwt/v5"

	"github.com/Solodarko/attendance-session-service/internal/domain"
	"github.com/Solodarko/attendance-session-service/internal/domain/models"
)

const tokenIssuer = "attendance-session-service"

// checkinTokenClaims is the JWT claim set carried by a check-in token. The
// meeting binding lives in a private claim so one token cannot be replayed
// against another meeting.
type checkinTokenClaims struct {
	MeetingUID  string `json:"meeting_uid"`
	DisplayName string `json:"display_name,omitempty"`
	Email       string `json:"email,omitempty"`
	jwt.RegisteredClaims
}

// CheckinTokenService signs and verifies check-in tokens with a shared
// HMAC secret.
type CheckinTokenService struct {
	secret  []byte
	nowFunc func() time.Time
}

// NewCheckinTokenService creates a token service for the given signing secret.
func NewCheckinTokenService(secret string) *CheckinTokenService {
	return &CheckinTokenService{
		secret:  []byte(secret),
		nowFunc: time.Now,
	}
}

// ServiceReady checks if the service is ready to sign and verify tokens.
func (s *CheckinTokenService) ServiceReady() bool {
	return len(s.secret) > 0
}

// Issue signs a check-in token for the given participant and meeting. The
// token expires after ttl.
func (s *CheckinTokenService) Issue(meetingUID, subjectID, displayName, email string, ttl time.Duration) (string, error) {
	if !s.ServiceReady() {
		return "", domain.NewInternalError("check-in token secret not configured")
	}
	if meetingUID == "" || subjectID == "" {
		return "", domain.NewValidationError("meeting UID and subject are required")
	}
	if ttl <= 0 {
		return "", domain.NewValidationError("token lifetime must be positive")
	}

	now := s.nowFunc()
	claims := checkinTokenClaims{
		MeetingUID:  meetingUID,
		DisplayName: displayName,
		Email:       email,
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    tokenIssuer,
			Subject:   subjectID,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
		},
	}

	token := jwt.NewWithClaims(jwt.SigningMethodHS256, claims)
	signed, err := token.SignedString(s.secret)
	if err != nil {
		return "", domain.NewInternalError("failed to sign check-in token", err)
	}
	return signed, nil
}

// Verify implements domain.CheckinTokenVerifier. It checks the signature and
// expiry, and that the token was issued for the given meeting.
func (s *CheckinTokenService) Verify(token, meetingUID string) (*models.CheckinClaims, error) {
	if !s.ServiceReady() {
		return nil, domain.NewInternalError("check-in token secret not configured")
	}

	var claims checkinTokenClaims
	parsed, err := jwt.ParseWithClaims(token, &claims, func(t *jwt.Token) (any, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method: %v", t.Method.Alg())
		}
		return s.secret, nil
	}, jwt.WithTimeFunc(s.nowFunc), jwt.WithIssuer(tokenIssuer))
	if err != nil {
		return nil, domain.NewUnauthorizedError("invalid check-in token", err)
	}
	if !parsed.Valid {
		return nil, domain.NewUnauthorizedError("invalid check-in token")
	}

	if claims.MeetingUID != meetingUID {
		return nil, domain.NewUnauthorizedError("check-in token was issued for a different meeting")
	}
	if claims.Subject == "" {
		return nil, domain.NewUnauthorizedError("check-in token has no subject")
	}

	return &models.CheckinClaims{
		SubjectID:   claims.Subject,
		MeetingUID:  claims.MeetingUID,
		DisplayName: claims.DisplayName,
		Email:       claims.Email,
	}, nil
}

var _ domain.CheckinTokenVerifier = (*CheckinTokenService)(nil)
