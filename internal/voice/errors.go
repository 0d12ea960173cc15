package voice

import (
	"errors"
	"fmt"
	"strings"
)

// CredentialError marks a failure to obtain or use voice join credentials
// (rejected token request, invalid token). Credential failures are not
// retried: the backend has already invalidated the attempt.
type CredentialError struct {
	Err error
}

func (e *CredentialError) Error() string { return fmt.Sprintf("voice: credentials: %v", e.Err) }
func (e *CredentialError) Unwrap() error { return e.Err }

// MediaError marks a local media failure: microphone permission denied or no
// capture device present. Media failures are not retried; the user has to
// act first.
type MediaError struct {
	Err error
}

func (e *MediaError) Error() string { return fmt.Sprintf("voice: media: %v", e.Err) }
func (e *MediaError) Unwrap() error { return e.Err }

// User-facing messages for voice connection failures.
const (
	msgMicDenied   = "마이크 접근이 거부되었습니다. 브라우저 설정에서 마이크 권한을 허용해주세요."
	msgMicNotFound = "마이크를 찾을 수 없습니다. 마이크가 연결되어 있는지 확인해주세요."
	msgBadConfig   = "음성 서비스 설정에 문제가 있습니다. 잠시 후 다시 시도해주세요."
	msgBadToken    = "음성 연결 인증에 실패했습니다. 다시 시도해주세요."
	msgGeneric     = "음성 연결에 실패했습니다. 네트워크를 확인하고 다시 시도해주세요."
)

// classify promotes raw transport errors into the typed taxonomy by matching
// the well-known SDK error markers. Already-typed errors pass through.
func classify(err error) error {
	var credErr *CredentialError
	var mediaErr *MediaError
	if errors.As(err, &credErr) || errors.As(err, &mediaErr) {
		return err
	}

	msg := err.Error()
	switch {
	case strings.Contains(msg, "PERMISSION_DENIED"),
		strings.Contains(msg, "NotAllowedError"),
		strings.Contains(msg, "NotFoundError"),
		strings.Contains(msg, "DevicesNotFoundError"):
		return &MediaError{Err: err}
	case strings.Contains(msg, "token"), strings.Contains(msg, "Token"):
		return &CredentialError{Err: err}
	}
	return err
}

// Translate converts a voice failure into the human-readable message shown
// inline to the user. Every asynchronous voice operation resolves to either
// success or one of these strings; raw transport errors never reach the
// presentation layer.
func Translate(err error) string {
	if err == nil {
		return ""
	}
	msg := err.Error()

	switch {
	case strings.Contains(msg, "PERMISSION_DENIED"), strings.Contains(msg, "NotAllowedError"):
		return msgMicDenied
	case strings.Contains(msg, "NotFoundError"), strings.Contains(msg, "DevicesNotFoundError"):
		return msgMicNotFound
	case strings.Contains(msg, "INVALID_PARAMS"), strings.Contains(msg, "App ID"):
		return msgBadConfig
	}

	var credErr *CredentialError
	if errors.As(err, &credErr) || strings.Contains(msg, "token") || strings.Contains(msg, "Token") {
		return msgBadToken
	}

	var mediaErr *MediaError
	if errors.As(err, &mediaErr) {
		return msgMicDenied
	}

	return msgGeneric
}
