package assistant

import (
	"context"
	"testing"
	"time"

	"aiworker/pkg/types"
)

func fixedValidator() *Validator {
	v := NewValidator()
	v.now = func() time.Time { return time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC) }
	return v
}

func findIssue(result *types.ValidationResult, issueType string) (types.Issue, bool) {
	for _, issue := range result.Issues {
		if issue.Type == issueType {
			return issue, true
		}
	}
	return types.Issue{}, false
}

func TestValidator_ShortContentIsInvalid(t *testing.T) {
	result, err := fixedValidator().ValidateDocument(context.Background(), "Hi", "일반")
	if err != nil {
		t.Fatalf("ValidateDocument failed: %v", err)
	}

	if result.IsValid {
		t.Error("Short content should be invalid")
	}

	issue, ok := findIssue(result, IssueLength)
	if !ok {
		t.Fatalf("Expected a length issue, got %+v", result.Issues)
	}
	if issue.Severity != types.SeverityError {
		t.Errorf("Expected error severity, got %q", issue.Severity)
	}
	if issue.Position != (types.Position{Start: 0, End: 2}) {
		t.Errorf("Unexpected position %+v", issue.Position)
	}

	// length error plus punctuation suggestion: one blocking issue out of four checks
	if result.ComplianceScore != 75 {
		t.Errorf("Expected compliance score 75, got %v", result.ComplianceScore)
	}
	if result.Timestamp != "2024-01-02T03:04:05.000Z" {
		t.Errorf("Unexpected timestamp %q", result.Timestamp)
	}
}

func TestValidator_ConfidentialContent(t *testing.T) {
	content := "보고서: 기밀 사항이 포함되어 있습니다."

	tests := []struct {
		name      string
		level     string
		wantIssue bool
		wantScore float64
	}{
		{"general level flags confidential marker", "일반", true, 75},
		{"empty level falls back to general", "", true, 75},
		{"restricted level accepts marker", "대외비", false, 100},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := fixedValidator().ValidateDocument(context.Background(), content, tt.level)
			if err != nil {
				t.Fatalf("ValidateDocument failed: %v", err)
			}

			issue, ok := findIssue(result, IssueSecurity)
			if ok != tt.wantIssue {
				t.Fatalf("Expected security issue=%v, got %+v", tt.wantIssue, result.Issues)
			}
			if ok {
				if issue.Severity != types.SeverityWarning {
					t.Errorf("Expected warning severity, got %q", issue.Severity)
				}
				if issue.Position != (types.Position{Start: 5, End: 7}) {
					t.Errorf("Expected rune position 5-7, got %+v", issue.Position)
				}
			}
			if !result.IsValid {
				t.Error("Warnings alone should not invalidate the document")
			}
			if result.ComplianceScore != tt.wantScore {
				t.Errorf("Expected score %v, got %v", tt.wantScore, result.ComplianceScore)
			}
		})
	}
}

func TestValidator_ParagraphSpacingSuggestion(t *testing.T) {
	result, err := fixedValidator().ValidateDocument(context.Background(), "첫 번째 문단입니다.\n\n두 번째 문단입니다.", "일반")
	if err != nil {
		t.Fatalf("ValidateDocument failed: %v", err)
	}

	if len(result.Suggestions) != 1 || result.Suggestions[0] != SuggestionParagraphSpacing {
		t.Errorf("Expected paragraph spacing suggestion, got %v", result.Suggestions)
	}
	if len(result.Issues) != 0 {
		t.Errorf("Expected no issues, got %+v", result.Issues)
	}
	if result.ComplianceScore != 100 {
		t.Errorf("Expected score 100, got %v", result.ComplianceScore)
	}
}

func TestValidator_MissingPunctuationIsOnlySuggestion(t *testing.T) {
	result, err := fixedValidator().ValidateDocument(context.Background(), "충분히 긴 문서 내용이지만 마침표가 없음", "일반")
	if err != nil {
		t.Fatalf("ValidateDocument failed: %v", err)
	}

	issue, ok := findIssue(result, IssuePunctuation)
	if !ok {
		t.Fatalf("Expected punctuation issue, got %+v", result.Issues)
	}
	if issue.Severity != types.SeveritySuggestion {
		t.Errorf("Expected suggestion severity, got %q", issue.Severity)
	}
	if !result.IsValid || result.ComplianceScore != 100 {
		t.Errorf("Suggestions should not affect validity or score: %+v", result)
	}
}

func TestValidator_EmptySlicesNotNil(t *testing.T) {
	result, err := fixedValidator().ValidateDocument(context.Background(), "이 문서는 아무 문제가 없습니다.", "일반")
	if err != nil {
		t.Fatalf("ValidateDocument failed: %v", err)
	}
	if result.Issues == nil || result.Suggestions == nil {
		t.Error("Issues and suggestions must encode as arrays, not null")
	}
}

func TestValidator_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	if _, err := NewValidator().ValidateDocument(ctx, "content", "일반"); err == nil {
		t.Error("Expected error for cancelled context")
	}
}
