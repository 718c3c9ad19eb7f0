package realtime

import "testing"

func TestTopicShapes(t *testing.T) {
	if got := OrderTopic(42); got != "order:42" {
		t.Errorf("OrderTopic = %q", got)
	}
	if got := VendorTopic(7); got != "vendor:7" {
		t.Errorf("VendorTopic = %q", got)
	}
	if got := TableTopic(7, "T3"); got != "table:7:T3" {
		t.Errorf("TableTopic = %q", got)
	}
	if got := LegacyTableTopic(7, "T3"); got != "table-7-T3" {
		t.Errorf("LegacyTableTopic = %q", got)
	}
}

func TestTopicsForOrder(t *testing.T) {
	ident := "T3"

	tests := []struct {
		name    string
		orderID int64
		vendor  int64
		ident   *string
		want    []Topic
		wantErr bool
	}{
		{
			name:    "with table identifier",
			orderID: 42, vendor: 7, ident: &ident,
			want: []Topic{"order:42", "vendor:7", "table:7:T3"},
		},
		{
			name:    "without table identifier",
			orderID: 42, vendor: 7,
			want: []Topic{"order:42", "vendor:7"},
		},
		{
			name:    "missing vendor",
			orderID: 42, vendor: 0, ident: &ident,
			wantErr: true,
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got, err := TopicsForOrder(tc.orderID, tc.vendor, tc.ident)
			if tc.wantErr {
				if err == nil {
					t.Fatal("expected error, got nil")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tc.want) {
				t.Fatalf("got %v, want %v", got, tc.want)
			}
			for i := range got {
				if got[i] != tc.want[i] {
					t.Errorf("topic[%d] = %q, want %q", i, got[i], tc.want[i])
				}
			}
		})
	}
}

func TestTopicsForOrderDeterministic(t *testing.T) {
	ident := "T3"
	first, err := TopicsForOrder(42, 7, &ident)
	if err != nil {
		t.Fatal(err)
	}
	for i := 0; i < 10; i++ {
		again, err := TopicsForOrder(42, 7, &ident)
		if err != nil {
			t.Fatal(err)
		}
		for j := range first {
			if again[j] != first[j] {
				t.Fatalf("run %d: topic order changed: %v vs %v", i, again, first)
			}
		}
	}
}

func TestTopicsForTable(t *testing.T) {
	got, err := TopicsForTable(7, "T3")
	if err != nil {
		t.Fatal(err)
	}
	want := []Topic{"vendor:7", "table:7:T3"}
	for i := range want {
		if got[i] != want[i] {
			t.Errorf("topic[%d] = %q, want %q", i, got[i], want[i])
		}
	}

	if _, err := TopicsForTable(0, "T3"); err == nil {
		t.Error("expected error for missing vendor")
	}
}
