package usecase

import (
	"context"
	"log/slog"
	"regexp"
	"strings"

	"askuni/internal/domain"
)

// Fixed answers substituted when a reply cannot be shown as generated.
const (
	NoInfoText = "**Answer**\n\n" +
		"I don't have this information in my knowledge base.\n\n" +
		"**Next Steps**\n" +
		"- Please check SIS/UCS or upload the official document.\n" +
		"- Make sure the information you're looking for is in the uploaded course materials."

	VerifyErrorText = "**Answer**\n\n" +
		"I encountered an error verifying the response. Please try again.\n\n" +
		"**Next Steps**\n" +
		"- Please check SIS/UCS or upload the official document."

	EmptyAnswerText = "**Answer**\n\n" +
		"I don't have this information in my knowledge base.\n\n" +
		"**Next Steps**\n" +
		"- Please check SIS/UCS or upload the official document."
)

// Substitution reasons reported to the observer.
const (
	SubstituteNoCitations = "no_citations"
	SubstituteVerifyError = "verify_error"
	SubstituteEmpty       = "empty"
)

// IdentitySanitizer rewrites institution names the model confuses with the
// configured university.
type IdentitySanitizer struct {
	re         *regexp.Regexp
	university string
}

// NewIdentitySanitizer builds a case-insensitive whole-word matcher for the
// replace list. An empty list or university yields a passthrough.
func NewIdentitySanitizer(university string, replace []string) *IdentitySanitizer {
	var alts []string
	for _, r := range replace {
		if r = strings.TrimSpace(r); r != "" && !strings.EqualFold(r, university) {
			alts = append(alts, regexp.QuoteMeta(r))
		}
	}
	if university == "" || len(alts) == 0 {
		return &IdentitySanitizer{}
	}
	return &IdentitySanitizer{
		re:         regexp.MustCompile(`(?i)\b(?:` + strings.Join(alts, "|") + `)\b`),
		university: university,
	}
}

// Sanitize applies the replacement. Safe on a nil receiver.
func (s *IdentitySanitizer) Sanitize(text string) string {
	if s == nil || s.re == nil || text == "" {
		return text
	}
	return s.re.ReplaceAllLiteralString(text, s.university)
}

// Grounder decides the authoritative terminal text of a turn.
type Grounder struct {
	citations domain.CitationSource
	require   bool
	sanitizer *IdentitySanitizer
	logger    *slog.Logger
}

// NewGrounder creates a Grounder. With require set and a non-nil citation
// source, answers without a file citation are replaced by NoInfoText.
func NewGrounder(citations domain.CitationSource, require bool, sanitizer *IdentitySanitizer, logger *slog.Logger) *Grounder {
	return &Grounder{citations: citations, require: require, sanitizer: sanitizer, logger: logger}
}

// Finalize returns the text for the terminal frame and, when the generated
// text was replaced, the substitution reason.
func (g *Grounder) Finalize(ctx context.Context, threadID, generated string) (string, string) {
	text, reason := generated, ""

	if g.require && g.citations != nil {
		cites, err := g.citations.LatestCitations(ctx, threadID)
		switch {
		case err != nil:
			g.logger.Error("citation lookup failed", "thread", threadID, "error", err)
			text, reason = VerifyErrorText, SubstituteVerifyError
		case len(cites) == 0:
			g.logger.Warn("answer has no knowledge base citations",
				"thread", threadID, "preview", truncateRunes(generated, 200))
			text, reason = NoInfoText, SubstituteNoCitations
		default:
			g.logger.Debug("answer grounded", "thread", threadID, "citations", len(cites))
		}
	}

	text = strings.TrimSpace(g.sanitizer.Sanitize(text))
	if text == "" {
		text, reason = EmptyAnswerText, SubstituteEmpty
	}
	return text, reason
}
