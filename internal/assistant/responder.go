package assistant

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
)

const summaryLimit = 100

// Canned replies
const (
	ReplyImprove  = "문서 개선 제안: 1) 문단 구조 정리, 2) 전문 용어 설명 추가, 3) 결론 부분 강화"
	ReplyReview   = "문서 검토 결과: 전반적으로 양호하나, 일부 문법 오류와 표현 개선이 필요합니다."
	ReplyGreeting = "안녕하세요! 문서 작성과 검토를 도와드리겠습니다. 어떤 도움이 필요하신가요?"
	ReplyHelp     = "다음과 같은 기능을 제공합니다:\n- 문서 검증 및 오류 검출\n- 문서 요약 및 개선 제안\n- 보안 등급 확인\n- 문법 및 맞춤법 검사"

	summaryPrefix = "문서 요약: "
)

// Responder answers chat messages by keyword. Conversation history is accepted
// but does not influence the reply.
type Responder struct{}

func NewResponder() *Responder {
	return &Responder{}
}

func (r *Responder) GenerateChatReply(ctx context.Context, message string, documentContent *string, history []json.RawMessage) (string, error) {
	if err := ctx.Err(); err != nil {
		return "", err
	}

	lower := strings.ToLower(message)
	mentions := func(korean, english string) bool {
		return strings.Contains(message, korean) || strings.Contains(lower, english)
	}

	if documentContent != nil && *documentContent != "" {
		switch {
		case mentions("요약", "summary"):
			return summarize(*documentContent), nil
		case mentions("개선", "improve"):
			return ReplyImprove, nil
		case mentions("검토", "review"):
			return ReplyReview, nil
		}
	}

	switch {
	case mentions("안녕", "hello"):
		return ReplyGreeting, nil
	case mentions("도움", "help"):
		return ReplyHelp, nil
	default:
		return fmt.Sprintf("'%s'에 대해 답변드리겠습니다. 더 구체적인 질문을 해주시면 더 정확한 도움을 드릴 수 있습니다.", message), nil
	}
}

func summarize(document string) string {
	runes := []rune(document)
	if len(runes) > summaryLimit {
		return summaryPrefix + string(runes[:summaryLimit]) + "..."
	}
	return summaryPrefix + document
}
