package state

import (
	"github.com/shoplens/stylist/internal/domain"
)

// Progress caption sets, cycled while a request is outstanding. Which set is
// shown depends only on the classified request kind.
var (
	searchingCaptions = []string{
		"딱 맞는 상품을 찾고 있어요...",
		"스타일을 비교하는 중이에요...",
		"조금만 기다려 주세요...",
	}

	thinkingCaptions = []string{
		"생각하고 있어요...",
		"요청을 정리하는 중이에요...",
		"거의 다 됐어요...",
	}

	fittingCaptions = []string{
		"가상 피팅을 준비하고 있어요...",
		"옷을 입혀보는 중이에요...",
		"핏을 확인하고 있어요...",
	}
)

// errorCaption is the single fixed apology shown for every failure; raw
// transport or internal error text never reaches the end user.
const errorCaption = "죄송해요, 요청을 처리하지 못했어요. 다시 한번 시도해 주세요."

// captionsFor picks the caption set for a request kind.
func captionsFor(kind domain.RequestKind) []string {
	switch kind {
	case domain.RequestImageSearch, domain.RequestTextSearch:
		return searchingCaptions
	case domain.RequestFitting:
		return fittingCaptions
	default:
		return thinkingCaptions
	}
}

// busyStateFor maps a request kind to its busy substate. Search-dominant
// requests show "searching"; everything else shows "thinking". The two carry
// no independent invariants.
func busyStateFor(kind domain.RequestKind) domain.AgentState {
	switch kind {
	case domain.RequestImageSearch, domain.RequestTextSearch:
		return domain.StateSearching
	default:
		return domain.StateThinking
	}
}
