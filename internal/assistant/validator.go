package assistant

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"aiworker/pkg/types"
)

const (
	minContentLength  = 10
	totalChecks       = 4
	confidentialMark  = "기밀"
	blankLineRatio    = 0.3
	sentenceTerminals = ".!?"
)

// Issue messages and suggestions returned to clients
const (
	MessageTooShort            = "문서 내용이 너무 짧습니다."
	MessageConfidential        = "기밀 정보가 포함된 것 같습니다. 보안 등급을 확인해주세요."
	MessageMissingPunctuation  = "문장 부호가 부족합니다."
	SuggestionParagraphSpacing = "문단 간격을 조정하여 가독성을 개선할 수 있습니다."
)

// Issue types
const (
	IssueLength      = "length"
	IssueSecurity    = "security"
	IssuePunctuation = "punctuation"
)

// Validator is the rule-based document checker. Positions are rune offsets.
type Validator struct {
	now func() time.Time
}

func NewValidator() *Validator {
	return &Validator{now: time.Now}
}

// ValidateDocument runs every rule against content and scores the result.
func (v *Validator) ValidateDocument(ctx context.Context, content, securityLevel string) (*types.ValidationResult, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if securityLevel == "" {
		securityLevel = types.DefaultSecurityLevel
	}

	issues := []types.Issue{}
	suggestions := []string{}
	contentLen := utf8.RuneCountInString(content)

	if utf8.RuneCountInString(strings.TrimSpace(content)) < minContentLength {
		issues = append(issues, types.Issue{
			Type:     IssueLength,
			Severity: types.SeverityError,
			Message:  MessageTooShort,
			Position: types.Position{Start: 0, End: contentLen},
		})
	}

	if idx := strings.Index(content, confidentialMark); idx >= 0 && securityLevel == types.DefaultSecurityLevel {
		start := utf8.RuneCountInString(content[:idx])
		issues = append(issues, types.Issue{
			Type:     IssueSecurity,
			Severity: types.SeverityWarning,
			Message:  MessageConfidential,
			Position: types.Position{Start: start, End: start + utf8.RuneCountInString(confidentialMark)},
		})
	}

	if float64(strings.Count(content, "\n\n")) > float64(strings.Count(content, "\n"))*blankLineRatio {
		suggestions = append(suggestions, SuggestionParagraphSpacing)
	}

	if !strings.ContainsAny(content, sentenceTerminals) {
		issues = append(issues, types.Issue{
			Type:     IssuePunctuation,
			Severity: types.SeveritySuggestion,
			Message:  MessageMissingPunctuation,
			Position: types.Position{Start: 0, End: contentLen},
		})
	}

	blocking, errorsFound := 0, 0
	for _, issue := range issues {
		switch issue.Severity {
		case types.SeverityError:
			errorsFound++
			blocking++
		case types.SeverityWarning:
			blocking++
		}
	}

	return &types.ValidationResult{
		IsValid:         errorsFound == 0,
		Issues:          issues,
		Suggestions:     suggestions,
		ComplianceScore: float64(totalChecks-blocking) / totalChecks * 100,
		Timestamp:       types.FormatTimestamp(v.now()),
	}, nil
}
