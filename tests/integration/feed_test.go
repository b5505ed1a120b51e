//go:build integration

package integration

import (
	"net/http"
	"strings"
	"testing"
)

func TestCategories(t *testing.T) {
	resp := doGet(t, "/api/categories")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		t.Fatalf("expected 200, got %d", resp.StatusCode)
	}

	cats := decodeJSON[[]categoryResponse](t, resp)
	got := make(map[string]bool, len(cats))
	for _, c := range cats {
		got[c.ID] = true
	}
	for _, want := range []string{"shoes", "bags", "lamps"} {
		if !got[want] {
			t.Errorf("category %q missing from %v", want, cats)
		}
	}
}

func TestHomeFeed_PaginatesCategory(t *testing.T) {
	id := newSession(t)
	base := "/api/sessions/" + id + "/views/home"

	resp := doPost(t, base+"/key", keyRequest{Value: "shoes"})
	resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		t.Fatalf("set key: expected 200, got %d", resp.StatusCode)
	}

	snap := waitSnapshot(t, base, settledAt(1))
	if len(snap.Items) != 10 {
		t.Fatalf("page 1: expected 10 items, got %d", len(snap.Items))
	}
	if !snap.HasMore {
		t.Fatal("page 1: expected hasMore")
	}
	if snap.Sentinel == nil || *snap.Sentinel != snap.Items[9].ID {
		t.Errorf("page 1: sentinel should be the last item, got %v", snap.Sentinel)
	}

	first := snap.Items[0]
	if first.Category != "shoes" {
		t.Errorf("category: got %q, want shoes", first.Category)
	}
	if first.Price <= 0 {
		t.Errorf("price: got %v, want positive", first.Price)
	}
	if !strings.HasSuffix(first.Image.Thumbnail, "-thumb.jpg") {
		t.Errorf("thumbnail: got %q", first.Image.Thumbnail)
	}

	for page := 2; page <= 3; page++ {
		resp := doPost(t, base+"/next", nil)
		resp.Body.Close()
		snap = waitSnapshot(t, base, settledAt(page))
	}
	if len(snap.Items) != 25 {
		t.Fatalf("page 3: expected all 25 shoes, got %d", len(snap.Items))
	}
	if snap.HasMore {
		t.Error("page 3: expected hasMore=false")
	}
	if snap.Sentinel != nil {
		t.Errorf("page 3: expected no sentinel, got %q", *snap.Sentinel)
	}

	seen := make(map[string]bool, len(snap.Items))
	for _, p := range snap.Items {
		if seen[p.ID] {
			t.Fatalf("duplicate product %s", p.ID)
		}
		seen[p.ID] = true
	}
}

func TestSearchFeed_MaxPrice(t *testing.T) {
	id := newSession(t)
	base := "/api/sessions/" + id + "/views/search"

	resp := doPost(t, base+"/key", keyRequest{Value: "lamp", MaxPrice: "25"})
	resp.Body.Close()

	snap := waitSnapshot(t, base, settledAt(1))
	if len(snap.Items) == 0 {
		t.Fatal("expected lamps priced at or below 25")
	}
	for _, p := range snap.Items {
		if p.Price > 25 {
			t.Errorf("product %s priced %v exceeds max price", p.ID, p.Price)
		}
		if p.Category != "lamps" {
			t.Errorf("product %s: category %q does not match term", p.ID, p.Category)
		}
	}
	if snap.HasMore {
		t.Error("a single short page should exhaust the search")
	}
}

func TestClearCache_Refetches(t *testing.T) {
	id := newSession(t)
	base := "/api/sessions/" + id + "/views/home"

	resp := doPost(t, base+"/key", keyRequest{Value: "bags"})
	resp.Body.Close()
	waitSnapshot(t, base, settledAt(1))

	resp = doPost(t, base+"/next", nil)
	resp.Body.Close()
	waitSnapshot(t, base, settledAt(2))

	resp = doDelete(t, "/api/sessions/"+id+"/cache")
	resp.Body.Close()
	if resp.StatusCode != http.StatusNoContent {
		t.Fatalf("clear cache: expected 204, got %d", resp.StatusCode)
	}

	snap := waitSnapshot(t, base, settledAt(1))
	if len(snap.Items) != 10 {
		t.Errorf("after clear: expected 10 items, got %d", len(snap.Items))
	}
}

func TestSession_NotFound(t *testing.T) {
	resp := doGet(t, "/api/sessions/does-not-exist/views/home")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
	body := decodeJSON[errorResponse](t, resp)
	if body.Code != http.StatusNotFound {
		t.Errorf("code: got %d, want 404", body.Code)
	}
}

func TestSession_UnknownView(t *testing.T) {
	id := newSession(t)

	resp := doGet(t, "/api/sessions/"+id+"/views/cart")
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusNotFound {
		t.Fatalf("expected 404, got %d", resp.StatusCode)
	}
}
