package orchestrator

import (
	"testing"

	"github.com/shoplens/stylist/internal/domain"
	"github.com/stretchr/testify/assert"
)

func TestClassifyRequest(t *testing.T) {
	tests := []struct {
		name     string
		text     string
		hasImage bool
		want     domain.RequestKind
	}{
		{"image always wins", "이 옷 입어보고 싶어", true, domain.RequestImageSearch},
		{"image with empty text", "", true, domain.RequestImageSearch},
		{"empty", "   ", false, domain.RequestIdle},
		{"fitting korean", "이거 입어볼래요", false, domain.RequestFitting},
		{"fitting english", "can I try on this jacket", false, domain.RequestFitting},
		{"cart korean", "장바구니에 담아줘", false, domain.RequestCart},
		{"order korean", "이걸로 주문할게요", false, domain.RequestOrder},
		{"order english", "proceed to checkout", false, domain.RequestOrder},
		{"fitting beats cart", "입어보고 장바구니에 담아줘", false, domain.RequestFitting},
		{"default text search", "검은색 미니 드레스 보여줘", false, domain.RequestTextSearch},
		{"case insensitive", "TRY ON please", false, domain.RequestFitting},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyRequest(tt.text, tt.hasImage))
		})
	}
}
