package domain

import (
	"errors"
	"testing"
)

func int64Ptr(v int64) *int64 { return &v }

func TestEffectiveFee(t *testing.T) {
	cases := []struct {
		name      string
		flatFee   int64
		waiver    bool
		threshold *int64
		subtotal  int64
		want      int64
		wantErr   error
	}{
		{
			name:     "no waiver charges flat fee",
			flatFee:  200,
			subtotal: 10_000,
			want:     200,
		},
		{
			name:      "waiver above threshold",
			flatFee:   200,
			waiver:    true,
			threshold: int64Ptr(200),
			subtotal:  201,
			want:      0,
		},
		{
			name:      "waiver boundary is inclusive",
			flatFee:   200,
			waiver:    true,
			threshold: int64Ptr(200),
			subtotal:  200,
			want:      0,
		},
		{
			name:      "below threshold charges flat fee",
			flatFee:   200,
			waiver:    true,
			threshold: int64Ptr(200),
			subtotal:  199,
			want:      200,
		},
		{
			name:    "waiver without threshold fails loudly",
			flatFee: 200,
			waiver:  true,
			wantErr: ErrFeeMisconfigured,
		},
		{
			name:     "zero flat fee stays zero",
			flatFee:  0,
			subtotal: 50,
			want:     0,
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := EffectiveFee(tc.flatFee, tc.waiver, tc.threshold, tc.subtotal)
			if tc.wantErr != nil {
				if !errors.Is(err, tc.wantErr) {
					t.Fatalf("expected error %v, got %v", tc.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tc.want {
				t.Fatalf("expected fee %d, got %d", tc.want, got)
			}
		})
	}
}

func TestEffectiveFeeNegativeFlatFee(t *testing.T) {
	if _, err := EffectiveFee(-1, false, nil, 100); err == nil {
		t.Fatal("expected error for negative flat fee")
	}
}

func TestOrderComputeTotal(t *testing.T) {
	order := Order{
		Items: []OrderLineItem{
			{UnitPrice: 100, Quantity: 2},
			{UnitPrice: 250, Quantity: 1},
		},
		AdditionalCosts: map[string]int64{
			"Bank Transfer":    200,
			"Express Delivery": 150,
		},
	}

	if got := order.ItemsSubtotal(); got != 450 {
		t.Fatalf("expected subtotal 450, got %d", got)
	}
	if got := order.ComputeTotal(); got != 800 {
		t.Fatalf("expected total 800, got %d", got)
	}
}

func TestCheckpointDone(t *testing.T) {
	cp := OrderCheckpoint{Completed: map[string]bool{}}
	if cp.Done() {
		t.Fatal("empty checkpoint should not be done")
	}
	for _, step := range CheckpointSteps() {
		cp.Completed[step] = true
	}
	if !cp.Done() {
		t.Fatal("checkpoint with all steps completed should be done")
	}
}
