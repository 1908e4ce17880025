package session

import (
	"strings"
	"testing"
)

func TestAppendAssignsMonotonicSequence(t *testing.T) {
	log := NewLog()
	first := log.Append(RoleOperator, KindMessage, "hello")
	second := log.Append(RolePrimary, KindMessage, "hi")
	if first.Seq != 1 || second.Seq != 2 {
		t.Fatalf("seq = %d, %d; want 1, 2", first.Seq, second.Seq)
	}
	if log.Len() != 2 {
		t.Fatalf("len = %d, want 2", log.Len())
	}
}

func TestRecentReturnsOldestFirst(t *testing.T) {
	log := NewLog()
	for _, raw := range []string{"a", "b", "c", "d"} {
		log.Append(RolePrimary, KindMessage, raw)
	}
	turns := log.Recent(2)
	if len(turns) != 2 {
		t.Fatalf("len(turns) = %d, want 2", len(turns))
	}
	if turns[0].Raw != "c" || turns[1].Raw != "d" {
		t.Fatalf("recent = %q, %q; want c, d", turns[0].Raw, turns[1].Raw)
	}
}

func TestParseRoleIsCaseInsensitive(t *testing.T) {
	cases := map[string]Role{
		"primary":     RolePrimary,
		"SUPERVISOR":  RoleSupervisor,
		" Operator ":  RoleOperator,
		"router":      RoleRouter,
		"coordinator": RoleCoordinator,
	}
	for in, want := range cases {
		got, ok := ParseRole(in)
		if !ok || got != want {
			t.Fatalf("ParseRole(%q) = %q, %v; want %q", in, got, ok, want)
		}
	}
	if _, ok := ParseRole("narrator"); ok {
		t.Fatalf("ParseRole accepted unknown role")
	}
}

func TestSyntheticKinds(t *testing.T) {
	log := NewLog()
	msg := log.Append(RolePrimary, KindMessage, "work")
	nudge := log.Append(RoleRouter, KindNudge, "still there?")
	if msg.Synthetic() {
		t.Fatalf("message turn reported synthetic")
	}
	if !nudge.Synthetic() {
		t.Fatalf("nudge turn not reported synthetic")
	}
}

func TestExcerptCarriesRoleHeaders(t *testing.T) {
	log := NewLog()
	log.Append(RoleOperator, KindMessage, "please list the files")
	log.Append(RolePrimary, KindMessage, "listing now")
	excerpt := log.Excerpt(10)
	if !strings.Contains(excerpt, "[Operator] please list the files") {
		t.Fatalf("excerpt missing operator line: %q", excerpt)
	}
	if !strings.Contains(excerpt, "[Primary] listing now") {
		t.Fatalf("excerpt missing primary line: %q", excerpt)
	}
}
