package domain

import (
	"testing"
)

var gstProfile = TaxProfile{
	RatePermyriad: 1800,
	OriginState:   "KA",
	SplitLabels:   [2]string{"CGST", "SGST"},
	SingleLabel:   "IGST",
}

func TestComputeAmountOriginStateSplit(t *testing.T) {
	amount, err := ComputeAmount(29900, "KA", gstProfile)
	if err != nil {
		t.Fatalf("compute amount: %v", err)
	}
	if amount.Base != 25339 {
		t.Fatalf("expected base 25339, got %d", amount.Base)
	}
	if len(amount.TaxLines) != 2 {
		t.Fatalf("expected two tax components, got %d", len(amount.TaxLines))
	}
	if amount.TaxLines[0].Value != 2281 || amount.TaxLines[1].Value != 2280 {
		t.Fatalf("expected split 2281/2280, got %d/%d", amount.TaxLines[0].Value, amount.TaxLines[1].Value)
	}
	if amount.TaxLines[0].Label != "CGST" || amount.TaxLines[1].Label != "SGST" {
		t.Fatalf("unexpected labels %q/%q", amount.TaxLines[0].Label, amount.TaxLines[1].Label)
	}
	if amount.Base+amount.TaxTotal() != amount.Total {
		t.Fatalf("breakdown does not sum to total: %d + %d != %d", amount.Base, amount.TaxTotal(), amount.Total)
	}
}

func TestComputeAmountCrossStateSingleComponent(t *testing.T) {
	amount, err := ComputeAmount(29900, "MH", gstProfile)
	if err != nil {
		t.Fatalf("compute amount: %v", err)
	}
	if len(amount.TaxLines) != 1 {
		t.Fatalf("expected one tax component, got %d", len(amount.TaxLines))
	}
	if amount.TaxLines[0].Label != "IGST" {
		t.Fatalf("expected IGST label, got %q", amount.TaxLines[0].Label)
	}
	if amount.TaxLines[0].Value != 4561 {
		t.Fatalf("expected IGST 4561, got %d", amount.TaxLines[0].Value)
	}
	if amount.Base+amount.TaxTotal() != amount.Total {
		t.Fatalf("breakdown does not sum to total")
	}
}

func TestComputeAmountNoRemainderLostAcrossTotals(t *testing.T) {
	for total := int64(1); total < 5000; total++ {
		split, err := ComputeAmount(total, "ka", gstProfile)
		if err != nil {
			t.Fatalf("compute amount %d: %v", total, err)
		}
		if split.Base+split.TaxTotal() != total {
			t.Fatalf("total %d: base %d + tax %d != total", total, split.Base, split.TaxTotal())
		}
		if len(split.TaxLines) == 2 {
			diff := split.TaxLines[0].Value - split.TaxLines[1].Value
			if diff != 0 && diff != 1 {
				t.Fatalf("total %d: odd paisa not assigned to first component (%d/%d)", total, split.TaxLines[0].Value, split.TaxLines[1].Value)
			}
		}

		single, err := ComputeAmount(total, "TN", gstProfile)
		if err != nil {
			t.Fatalf("compute amount %d: %v", total, err)
		}
		if single.Base != split.Base {
			t.Fatalf("total %d: base differs between treatments (%d vs %d)", total, single.Base, split.Base)
		}
	}
}

func TestComputeAmountZeroRate(t *testing.T) {
	amount, err := ComputeAmount(10000, "KA", TaxProfile{SingleLabel: "IGST", SplitLabels: [2]string{"CGST", "SGST"}})
	if err != nil {
		t.Fatalf("compute amount: %v", err)
	}
	if amount.Base != 10000 || len(amount.TaxLines) != 0 {
		t.Fatalf("expected untaxed amount, got base %d with %d lines", amount.Base, len(amount.TaxLines))
	}
}

func TestComputeAmountRejectsNonPositiveTotal(t *testing.T) {
	if _, err := ComputeAmount(0, "KA", gstProfile); err == nil {
		t.Fatal("expected error for zero total")
	}
	if _, err := ComputeAmount(-100, "KA", gstProfile); err == nil {
		t.Fatal("expected error for negative total")
	}
}
