package a2a

import "testing"

func TestResolveAutoRanksBySkillOverlapAndTrust(t *testing.T) {
	remotes := []RemoteAgent{
		{URL: "https://a.example.com", Skills: []string{"translate"}, TrustLevel: TrustUntrusted},
		{URL: "https://b.example.com", Skills: []string{"translate", "summarize"}, TrustLevel: TrustCommunity},
	}
	reg := NewRegistry(remotes, nil)

	agent, err := reg.Resolve("auto", []string{"translate", "summarize"})
	if err != nil {
		t.Fatal(err)
	}
	if agent.URL != "https://b.example.com" {
		t.Fatalf("expected higher-overlap agent to win, got %q", agent.URL)
	}
}

func TestResolveExplicitURLCreatesUntrustedEntry(t *testing.T) {
	reg := NewRegistry(nil, nil)
	agent, err := reg.Resolve("https://new-agent.example.com", nil)
	if err != nil {
		t.Fatal(err)
	}
	if agent.TrustLevel != TrustUntrusted {
		t.Fatalf("expected fresh entry to default untrusted, got %q", agent.TrustLevel)
	}
}

func TestRecordFailureExcludesUnhealthyFromRanking(t *testing.T) {
	remotes := []RemoteAgent{{URL: "https://flaky.example.com", Skills: []string{"x"}, TrustLevel: TrustVerified}}
	reg := NewRegistry(remotes, nil)
	reg.RecordFailure("https://flaky.example.com")
	reg.RecordFailure("https://flaky.example.com")
	reg.RecordFailure("https://flaky.example.com")

	if _, err := reg.Resolve("auto", []string{"x"}); err == nil {
		t.Fatal("expected no healthy match after 3 failures")
	}
}
