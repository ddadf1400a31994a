package runtime

import (
	"errors"
	"fmt"
	"testing"

	"github.com/kairi-dev/kairi/internal/browser"
)

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want ErrorType
	}{
		{"nil", nil, ""},
		{"sentinel target", fmt.Errorf("act: %w", browser.ErrTargetNotFound), ErrTargetNotFound},
		{"sentinel captcha", browser.ErrCaptcha, ErrCaptchaOr2FA},
		{"sentinel canvas", browser.ErrCanvas, ErrCanvasDetected},
		{"sentinel navigation", fmt.Errorf("goto: %w", browser.ErrNavigation), ErrNavigation},
		{"captcha text", errors.New("page shows a CAPTCHA challenge"), ErrCaptchaOr2FA},
		{"2fa text", errors.New("2FA required"), ErrCaptchaOr2FA},
		{"canvas text", errors.New("element rendered on canvas"), ErrCanvasDetected},
		{"not found text", errors.New("element not found: #buy"), ErrTargetNotFound},
		{"no such element", errors.New("no such element"), ErrTargetNotFound},
		{"navigation text", errors.New("navigation timeout"), ErrNavigation},
		{"chromium code", errors.New("net::ERR_NAME_NOT_RESOLVED"), ErrNavigation},
		{"anything else", errors.New("weird failure"), ErrUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := classify(tt.err); got != tt.want {
				t.Errorf("classify(%v) = %q, want %q", tt.err, got, tt.want)
			}
		})
	}
}
