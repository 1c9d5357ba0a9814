package models

import "testing"

func TestSetBidForcesFavorite(t *testing.T) {
	ts := &TrackingState{TenderID: 1}

	ts.SetBid(true)
	if !ts.IsBid {
		t.Fatal("expected bid flag set")
	}
	if !ts.IsFavorite {
		t.Fatal("marking a bid must force the favorite flag")
	}
}

func TestSetBidFalseLeavesFavoriteAlone(t *testing.T) {
	ts := &TrackingState{TenderID: 1}
	ts.SetBid(true)

	ts.SetBid(false)
	if ts.IsBid {
		t.Fatal("expected bid flag cleared")
	}
	if !ts.IsFavorite {
		t.Fatal("un-bidding must not clear the favorite flag")
	}
}

func TestSetFavoriteFalseKeepsBid(t *testing.T) {
	ts := &TrackingState{TenderID: 1}
	ts.SetBid(true)

	ts.SetFavorite(false)
	if ts.IsFavorite {
		t.Fatal("expected favorite flag cleared")
	}
	if !ts.IsBid {
		t.Fatal("removing a favorite must not touch the bid flag")
	}
}
