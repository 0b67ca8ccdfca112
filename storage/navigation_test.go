package storage

import "testing"

func TestNavigationStateOperations(t *testing.T) {
	store := newTestStore(t)

	if _, ok, err := store.GetNavigation("missing"); err != nil || ok {
		t.Fatalf("expected missing key to be absent, ok=%v err=%v", ok, err)
	}

	if err := store.SetNavigation("selected_conversation", "7"); err != nil {
		t.Fatalf("SetNavigation failed: %v", err)
	}
	if err := store.SetNavigation("selected_conversation", "9"); err != nil {
		t.Fatalf("SetNavigation overwrite failed: %v", err)
	}

	value, ok, err := store.GetNavigation("selected_conversation")
	if err != nil {
		t.Fatalf("GetNavigation failed: %v", err)
	}
	if !ok || value != "9" {
		t.Fatalf("expected overwritten value 9, got %q (ok=%v)", value, ok)
	}

	if err := store.ClearNavigation("selected_conversation"); err != nil {
		t.Fatalf("ClearNavigation failed: %v", err)
	}
	if _, ok, _ := store.GetNavigation("selected_conversation"); ok {
		t.Fatalf("expected cleared key to be absent")
	}

	if err := store.SetNavigation("  ", "x"); err == nil {
		t.Fatalf("expected empty key to be rejected")
	}
}

func TestNavigationStoreSelection(t *testing.T) {
	nav := NavigationStore{Store: newTestStore(t)}

	if err := nav.SaveSelection("42"); err != nil {
		t.Fatalf("SaveSelection failed: %v", err)
	}
	id, ok, err := nav.LoadSelection()
	if err != nil {
		t.Fatalf("LoadSelection failed: %v", err)
	}
	if !ok || id != "42" {
		t.Fatalf("expected selection 42, got %q (ok=%v)", id, ok)
	}

	if err := nav.SaveSelection(""); err != nil {
		t.Fatalf("SaveSelection clear failed: %v", err)
	}
	if _, ok, _ := nav.LoadSelection(); ok {
		t.Fatalf("expected empty selection to clear state")
	}
}
