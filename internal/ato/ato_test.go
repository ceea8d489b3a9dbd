package ato

import (
	"context"
	"errors"
	"path/filepath"
	"strings"
	"testing"

	"github.com/basket/atohub/internal/config"
	"github.com/basket/atohub/internal/persistence"
)

func TestNormalizeRoute(t *testing.T) {
	cases := []struct {
		in, want string
	}{
		{"/Foo Bar/", "foobar"},
		{"foobar", "foobar"},
		{"  /Trivia Night/  ", "trivianight"},
		{"/hub/", "hub"},
		{"///", ""},
		{"a b\tc", "abc"},
	}
	for _, tc := range cases {
		if got := NormalizeRoute(tc.in); got != tc.want {
			t.Fatalf("NormalizeRoute(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestNormalizeRoute_Idempotent(t *testing.T) {
	for _, in := range []string{"/Foo Bar/", "already-normal", "  /X y Z/ ", "/hub/"} {
		once := NormalizeRoute(in)
		if twice := NormalizeRoute(once); twice != once {
			t.Fatalf("not idempotent: %q -> %q -> %q", in, once, twice)
		}
	}
}

var testTier = config.TierConfig{
	MaxCustomATOs:       3,
	MaxCreatedPerMonth:  3,
	MaxInstructionChars: 100,
}

func newTestRegistry(t *testing.T) *Registry {
	t.Helper()
	store, err := persistence.Open(filepath.Join(t.TempDir(), "ato.db"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	t.Cleanup(func() { _ = store.Close() })
	return NewRegistry(store)
}

func TestCreate_CollidingRoutesRejected(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	first := Definition{OwnerID: "o1", Label: "Foo Bar", Route: "/Foo Bar/"}
	created, err := reg.Create(ctx, first, testTier)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if created.Route != "foobar" {
		t.Fatalf("route not normalized on create: %q", created.Route)
	}

	// "foobar" normalizes identically, even from a different owner.
	second := Definition{OwnerID: "o2", Label: "foobar", Route: "foobar"}
	if _, err := reg.Create(ctx, second, testTier); !errors.Is(err, ErrRouteCollision) {
		t.Fatalf("expected ErrRouteCollision, got %v", err)
	}
}

func TestCreate_ReservedRoutes(t *testing.T) {
	reg := newTestRegistry(t)
	for _, route := range []string{"/hub/", "bear", "/Road Trip/"} {
		_, err := reg.Create(context.Background(), Definition{OwnerID: "o1", Route: route}, testTier)
		if route == "/Road Trip/" {
			if !errors.Is(err, ErrRouteCollision) {
				t.Fatalf("roadtrip must be reserved, got %v", err)
			}
			continue
		}
		if !errors.Is(err, ErrRouteCollision) {
			t.Fatalf("builtin %q must be reserved, got %v", route, err)
		}
	}
}

func TestCreate_TierLimits(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	long := Definition{OwnerID: "o1", Route: "longone", SystemPrompt: strings.Repeat("x", 101)}
	if _, err := reg.Create(ctx, long, testTier); !errors.Is(err, ErrInstructionsTooLong) {
		t.Fatalf("expected ErrInstructionsTooLong, got %v", err)
	}

	for i, route := range []string{"one", "two", "three"} {
		if _, err := reg.Create(ctx, Definition{OwnerID: "o1", Route: route}, testTier); err != nil {
			t.Fatalf("create %d: %v", i, err)
		}
	}
	if _, err := reg.Create(ctx, Definition{OwnerID: "o1", Route: "four"}, testTier); !errors.Is(err, ErrQuotaExceeded) {
		t.Fatalf("expected ErrQuotaExceeded, got %v", err)
	}

	// A different owner has an independent quota.
	if _, err := reg.Create(ctx, Definition{OwnerID: "o2", Route: "four"}, testTier); err != nil {
		t.Fatalf("other owner blocked: %v", err)
	}
}

func TestCreate_UnknownToolRejected(t *testing.T) {
	reg := newTestRegistry(t)
	def := Definition{OwnerID: "o1", Route: "tooly", AllowedTools: []string{"web_search", "shell_exec"}}
	if _, err := reg.Create(context.Background(), def, testTier); !errors.Is(err, ErrUnknownTool) {
		t.Fatalf("expected ErrUnknownTool, got %v", err)
	}
}

func TestResolve_BuiltinsFirstAndOwnerScoped(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	d, err := reg.Resolve(ctx, "/Hub/", "anyone")
	if err != nil || !d.BuiltIn || d.Route != "hub" {
		t.Fatalf("builtin resolve failed: %+v %v", d, err)
	}

	created, err := reg.Create(ctx, Definition{OwnerID: "o1", Label: "Mine", Route: "mine"}, testTier)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	got, err := reg.Resolve(ctx, "/Mine/", "o1")
	if err != nil || got.ID != created.ID {
		t.Fatalf("owner resolve failed: %+v %v", got, err)
	}

	// Another owner's custom routes are invisible.
	if _, err := reg.Resolve(ctx, "mine", "o2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound for foreign owner, got %v", err)
	}
	if _, err := reg.Resolve(ctx, "nothere", "o1"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}
}

func TestUpdate_RenameReChecks(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	a, err := reg.Create(ctx, Definition{OwnerID: "o1", Route: "aaa"}, testTier)
	if err != nil {
		t.Fatalf("create a: %v", err)
	}
	if _, err := reg.Create(ctx, Definition{OwnerID: "o1", Route: "bbb"}, testTier); err != nil {
		t.Fatalf("create b: %v", err)
	}

	a.Route = "/B B B/"
	if err := reg.Update(ctx, a, testTier); !errors.Is(err, ErrRouteCollision) {
		t.Fatalf("rename onto occupied route: expected ErrRouteCollision, got %v", err)
	}
	a.Route = "hub"
	if err := reg.Update(ctx, a, testTier); !errors.Is(err, ErrRouteCollision) {
		t.Fatalf("rename onto reserved route: expected ErrRouteCollision, got %v", err)
	}
	a.Route = "ccc"
	if err := reg.Update(ctx, a, testTier); err != nil {
		t.Fatalf("legit rename: %v", err)
	}
	if _, err := reg.Resolve(ctx, "ccc", "o1"); err != nil {
		t.Fatalf("resolve after rename: %v", err)
	}
}

func TestDelete_OwnerOnlyAndFreesRoute(t *testing.T) {
	reg := newTestRegistry(t)
	ctx := context.Background()

	created, err := reg.Create(ctx, Definition{OwnerID: "o1", Route: "temp"}, testTier)
	if err != nil {
		t.Fatalf("create: %v", err)
	}
	if err := reg.Delete(ctx, created.ID, "o2"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("non-owner delete must fail, got %v", err)
	}
	if err := reg.Delete(ctx, created.ID, "o1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := reg.Create(ctx, Definition{OwnerID: "o2", Route: "temp"}, testTier); err != nil {
		t.Fatalf("route must free after delete: %v", err)
	}
}
