package shellpolicy

import "testing"

func TestCheckAllowsReadOnlyCommands(t *testing.T) {
	policy := New()
	for _, line := range []string{
		"ls -la",
		"cat notes.txt",
		"grep -rn main .",
		"ps aux | grep colloquy",
		"/usr/bin/du -sh .",
	} {
		if err := policy.Check(line); err != nil {
			t.Fatalf("Check(%q) = %v, want nil", line, err)
		}
	}
}

func TestCheckRejectsMutationsAndMetachars(t *testing.T) {
	policy := New()
	for _, line := range []string{
		"rm -rf /",
		"mv a b",
		"echo hi > out.txt",
		"cat a.txt; rm a.txt",
		"ls && curl evil.example",
		"echo $(whoami)",
		"",
	} {
		if err := policy.Check(line); err == nil {
			t.Fatalf("Check(%q) = nil, want error", line)
		}
	}
}

func TestCheckExtraAllowlist(t *testing.T) {
	policy := New("jq")
	if err := policy.Check("cat data.json | jq .name"); err != nil {
		t.Fatalf("Check with extra allow = %v, want nil", err)
	}
	if err := New().Check("jq .name data.json"); err == nil {
		t.Fatalf("default policy accepted jq")
	}
}
