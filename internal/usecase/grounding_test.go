package usecase

import (
	"context"
	"errors"
	"testing"

	"askuni/internal/domain"
)

func TestIdentitySanitizer(t *testing.T) {
	s := NewIdentitySanitizer("University of Bahrain", []string{"University of Birmingham"})

	tests := []struct {
		in, want string
	}{
		{"University of Birmingham", "University of Bahrain"},
		{"the UNIVERSITY OF BIRMINGHAM campus", "the University of Bahrain campus"},
		{"University of Birminghamshire", "University of Birminghamshire"},
		{"University of Bahrain", "University of Bahrain"},
		{"", ""},
	}
	for _, tt := range tests {
		if got := s.Sanitize(tt.in); got != tt.want {
			t.Errorf("Sanitize(%q) = %q, want %q", tt.in, got, tt.want)
		}
	}
}

func TestIdentitySanitizerPassthrough(t *testing.T) {
	var nilSanitizer *IdentitySanitizer
	if got := nilSanitizer.Sanitize("University of Birmingham"); got != "University of Birmingham" {
		t.Errorf("nil sanitizer changed text: %q", got)
	}
	s := NewIdentitySanitizer("University of Bahrain", nil)
	if got := s.Sanitize("University of Birmingham"); got != "University of Birmingham" {
		t.Errorf("empty replace list changed text: %q", got)
	}
	s = NewIdentitySanitizer("Uni (Main)", []string{"Other.Uni"})
	if got := s.Sanitize("OtherXUni and Other.Uni"); got != "OtherXUni and Uni (Main)" {
		t.Errorf("metacharacters not quoted: %q", got)
	}
}

func TestGrounderFinalize(t *testing.T) {
	sanitizer := NewIdentitySanitizer("University of Bahrain", []string{"University of Birmingham"})
	cited := &mockCitations{cites: []domain.Citation{{FileID: "file_1", Quote: "B101"}}}

	tests := []struct {
		name       string
		citations  domain.CitationSource
		require    bool
		generated  string
		want       string
		wantReason string
	}{
		{"grounded", cited, true, " The room is B101. ", "The room is B101.", ""},
		{"no citations", &mockCitations{}, true, "Guess.", NoInfoText, SubstituteNoCitations},
		{"lookup error", &mockCitations{err: errors.New("503")}, true, "x", VerifyErrorText, SubstituteVerifyError},
		{"not required", &mockCitations{}, false, "Free answer", "Free answer", ""},
		{"no source", nil, true, "Bedrock answer", "Bedrock answer", ""},
		{"empty", cited, true, "   ", EmptyAnswerText, SubstituteEmpty},
		{"sanitized", nil, false, "University of Birmingham rules", "University of Bahrain rules", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			g := NewGrounder(tt.citations, tt.require, sanitizer, discardLogger())
			got, reason := g.Finalize(context.Background(), "thread_1", tt.generated)
			if got != tt.want {
				t.Errorf("text = %q, want %q", got, tt.want)
			}
			if reason != tt.wantReason {
				t.Errorf("reason = %q, want %q", reason, tt.wantReason)
			}
		})
	}
}
