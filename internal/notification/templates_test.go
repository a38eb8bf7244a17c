package notification

import (
	"testing"

	"orderflow/internal/events"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRender(t *testing.T) {
	data := events.OrderData{
		OrderID:     uuid.MustParse("0b8c6a1e-3f35-4d6f-9a61-1b2f0d7c5e42"),
		UserID:      uuid.New(),
		Status:      "pending",
		TotalAmount: decimal.RequireFromString("199.97"),
	}

	tests := []struct {
		eventType   events.Type
		wantSubject string
		wantLine    string
	}{
		{eventType: events.OrderPlaced, wantSubject: "Order Placed Successfully", wantLine: "Thank you for your purchase!"},
		{eventType: events.OrderFailed, wantSubject: "Order Failed", wantLine: "could not be processed"},
		{eventType: events.OrderCompleted, wantSubject: "Order Completed", wantLine: "Your order has been completed."},
		{eventType: "order_refunded", wantSubject: "Order Update", wantLine: "Your order status has been updated."},
	}

	for _, tt := range tests {
		t.Run(string(tt.eventType), func(t *testing.T) {
			subject, body, err := Render(tt.eventType, data)
			require.NoError(t, err)
			assert.Equal(t, tt.wantSubject, subject)
			assert.Contains(t, body, tt.wantLine)
			assert.Contains(t, body, "<h2>"+tt.wantSubject+"</h2>")
			assert.Contains(t, body, "0b8c6a1e-3f35-4d6f-9a61-1b2f0d7c5e42")
			assert.Contains(t, body, "$199.97")
			assert.Contains(t, body, "<strong>Status:</strong> pending")
		})
	}
}

func TestRenderEscapesStatus(t *testing.T) {
	_, body, err := Render(events.OrderFailed, events.OrderData{Status: "<script>"})
	require.NoError(t, err)
	assert.NotContains(t, body, "<script>")
	assert.Contains(t, body, "&lt;script&gt;")
}
