package payment

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestDefaultFallbackPolicy(t *testing.T) {
	tests := []struct {
		name    string
		message string
		want    bool
	}{
		{
			name:    "refund refused before settlement",
			message: "Transaction cannot be refunded unless it is settled",
			want:    true,
		},
		{
			name:    "not settled variant",
			message: "transaction is NOT SETTLED",
			want:    true,
		},
		{
			name:    "unsettled variant",
			message: "unsettled transaction",
			want:    true,
		},
		{
			name:    "unrelated refusal",
			message: "transaction is under fraud review",
			want:    false,
		},
		{
			name:    "empty message",
			message: "",
			want:    false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := DefaultFallbackPolicy(TransactionResult{Success: false, Message: tt.message})
			assert.Equal(t, tt.want, got)
		})
	}
}
