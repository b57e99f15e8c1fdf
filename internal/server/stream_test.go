package server

import "testing"

func TestOfferLatestKeepsNewestValue(t *testing.T) {
	updates := make(chan int, 1)
	for version := 1; version <= 5; version++ {
		offerLatest(updates, version)
	}
	if got := <-updates; got != 5 {
		t.Fatalf("expected newest value 5, got %d", got)
	}
	select {
	case extra := <-updates:
		t.Fatalf("expected a single pending value, got extra %d", extra)
	default:
	}
}
