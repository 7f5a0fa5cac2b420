package orchestrator

import (
	"strings"

	"github.com/shoplens/stylist/internal/domain"
)

// Small fixed vocabularies for request classification. Image presence always
// wins; unmatched text defaults to text search. The label only picks the
// progress caption set, so an ambiguous match is cosmetic.
var (
	fittingTerms = []string{"입어", "피팅", "착용", "fitting", "try on"}
	cartTerms    = []string{"장바구니", "담아", "cart"}
	orderTerms   = []string{"주문", "결제", "구매", "order", "checkout"}
)

// ClassifyRequest labels the semantic type of a user request.
func ClassifyRequest(text string, hasImage bool) domain.RequestKind {
	if hasImage {
		return domain.RequestImageSearch
	}

	t := strings.ToLower(strings.TrimSpace(text))
	if t == "" {
		return domain.RequestIdle
	}

	switch {
	case containsAny(t, fittingTerms):
		return domain.RequestFitting
	case containsAny(t, cartTerms):
		return domain.RequestCart
	case containsAny(t, orderTerms):
		return domain.RequestOrder
	default:
		return domain.RequestTextSearch
	}
}

func containsAny(text string, terms []string) bool {
	for _, term := range terms {
		if strings.Contains(text, term) {
			return true
		}
	}
	return false
}
