package domain

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClassifyExchangeError(t *testing.T) {
	tests := []struct {
		msg  string
		want ExchangeErrorKind
	}{
		{"ab not enough for new order: Insufficient available balance", KindInsufficientBalance},
		{"OrderLinkedID is duplicate", KindDuplicateOrder},
		{"order link id already exists", KindDuplicateOrder},
		{"order not exists or too late to cancel", KindGeneric},
		{"Invalid qty", KindInvalidParameters},
		{"too many visits", KindGeneric},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			assert.Equal(t, tt.want, ClassifyExchangeError(10001, tt.msg).Kind)
		})
	}
}

func TestIsExchangeKindUnwraps(t *testing.T) {
	err := fmt.Errorf("place order: %w", ClassifyExchangeError(110007, "insufficient balance"))
	assert.True(t, IsExchangeKind(err, KindInsufficientBalance))
	assert.False(t, IsExchangeKind(err, KindGeneric))
	assert.False(t, IsExchangeKind(fmt.Errorf("plain"), KindGeneric))
}

func TestSideOpposite(t *testing.T) {
	assert.Equal(t, SideShort, SideLong.Opposite())
	assert.Equal(t, SideLong, SideShort.Opposite())
	assert.False(t, Side("Sideways").Valid())
}
