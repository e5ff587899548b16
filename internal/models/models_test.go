package models

import (
	"testing"

	"github.com/google/uuid"
)

func TestPairKeyIsOrderIndependent(t *testing.T) {
	a := uuid.MustParse("11111111-1111-1111-1111-111111111111")
	b := uuid.MustParse("22222222-2222-2222-2222-222222222222")

	if PairKey(a, b) != PairKey(b, a) {
		t.Fatalf("pair key differs: %q vs %q", PairKey(a, b), PairKey(b, a))
	}
	want := "11111111-1111-1111-1111-111111111111:22222222-2222-2222-2222-222222222222"
	if got := PairKey(b, a); got != want {
		t.Fatalf("expected %q, got %q", want, got)
	}
}
