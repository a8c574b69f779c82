package money

import "testing"

func TestAmount_Equal(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name string
		a, b Amount
		want bool
	}{
		{"identical", New(10, "USD"), New(10, "USD"), true},
		{"within epsilon", New(10.0004, "USD"), New(10, "USD"), true},
		{"outside epsilon", New(10.01, "USD"), New(10, "USD"), false},
		{"different currency", New(10, "USD"), New(10, "EUR"), false},
		{"zero values", Amount{}, Amount{}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := tt.a.Equal(tt.b); got != tt.want {
				t.Errorf("Equal(%v, %v) = %v, want %v", tt.a, tt.b, got, tt.want)
			}
		})
	}
}

func TestAmount_IsZero(t *testing.T) {
	t.Parallel()

	if !(Amount{}).IsZero() {
		t.Error("zero value should be IsZero")
	}
	if (Amount{Currency: "USD"}).IsZero() {
		t.Error("amount with currency should not be IsZero")
	}
	if (Amount{Value: 1}).IsZero() {
		t.Error("amount with value should not be IsZero")
	}
}

func TestAmount_String(t *testing.T) {
	t.Parallel()

	got := New(49.995, "USD").String()
	if got != "50.00 USD" {
		t.Errorf("String() = %q, want %q", got, "50.00 USD")
	}
}
