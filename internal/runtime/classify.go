package runtime

import (
	"errors"
	"strings"

	"github.com/kairi-dev/kairi/internal/browser"
)

// ErrorType is the step failure taxonomy surfaced in StepResult and used to
// route recovery plans.
type ErrorType string

const (
	ErrTargetNotFound          ErrorType = "TargetNotFound"
	ErrExpectationFailed       ErrorType = "ExpectationFailed"
	ErrExtractionEmpty         ErrorType = "ExtractionEmpty"
	ErrCaptchaOr2FA            ErrorType = "CaptchaOr2FA"
	ErrCanvasDetected          ErrorType = "CanvasDetected"
	ErrAuthoringServiceTimeout ErrorType = "AuthoringServiceTimeout"
	ErrNavigation              ErrorType = "Navigation"
	ErrUnknown                 ErrorType = "Unknown"
)

// classify maps an error to the failure taxonomy. Sentinel errors from the
// browser package classify precisely; anything else is matched heuristically
// against the error text.
func classify(err error) ErrorType {
	if err == nil {
		return ""
	}

	switch {
	case errors.Is(err, browser.ErrTargetNotFound):
		return ErrTargetNotFound
	case errors.Is(err, browser.ErrCaptcha):
		return ErrCaptchaOr2FA
	case errors.Is(err, browser.ErrCanvas):
		return ErrCanvasDetected
	case errors.Is(err, browser.ErrNavigation):
		return ErrNavigation
	}

	msg := strings.ToLower(err.Error())
	switch {
	case strings.Contains(msg, "captcha") || strings.Contains(msg, "2fa") || strings.Contains(msg, "two-factor"):
		return ErrCaptchaOr2FA
	case strings.Contains(msg, "canvas") || strings.Contains(msg, "shadow dom") || strings.Contains(msg, "pdf embed"):
		return ErrCanvasDetected
	case strings.Contains(msg, "not found") || strings.Contains(msg, "no such element") || strings.Contains(msg, "no element matches"):
		return ErrTargetNotFound
	case strings.Contains(msg, "navigation") || strings.Contains(msg, "net::err"):
		return ErrNavigation
	default:
		return ErrUnknown
	}
}
