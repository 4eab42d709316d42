package a2a

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"
	"time"
)

// RemoteAgent is one statically configured A2A peer (spec §4.9.8).
type RemoteAgent struct {
	URL         string   `json:"url"`
	Name        string   `json:"name"`
	Description string   `json:"description"`
	Skills      []string `json:"skills"`
	TrustLevel  string   `json:"trust_level"`
	Auth        string   `json:"auth"`
}

// registryEntry is one Registry-tracked agent plus its health bookkeeping.
type registryEntry struct {
	RemoteAgent
	LastSeen     time.Time
	FailureCount int
}

func (e registryEntry) healthy() bool { return e.FailureCount < 3 }

// cardCacheEntry caches one fetched AgentCard (spec §4.9.8's 3600s TTL).
type cardCacheEntry struct {
	fetchedAt time.Time
	card      AgentCard
}

const cardCacheTTL = 3600 * time.Second

// Registry holds every known A2A agent: statically configured remotes,
// dynamically discovered registry entries, and on-demand lookups for
// explicit URLs (spec §4.9.8).
type Registry struct {
	mu       sync.Mutex
	entries  map[string]*registryEntry // url -> entry
	cards    map[string]cardCacheEntry
	registries []string // registry discovery URLs, for trust resolution
	client   *http.Client
}

// NewRegistry seeds a Registry from static config remotes and registry
// discovery URLs.
func NewRegistry(remotes []RemoteAgent, registries []string) *Registry {
	r := &Registry{
		entries:    make(map[string]*registryEntry),
		cards:      make(map[string]cardCacheEntry),
		registries: registries,
		client:     &http.Client{Timeout: 10 * time.Second},
	}
	for _, rem := range remotes {
		r.entries[rem.URL] = &registryEntry{RemoteAgent: rem, LastSeen: time.Now().UTC()}
	}
	return r
}

// RegistryHosts returns the hostnames of configured discovery registries,
// used by ResolveTrust's community-tier matching.
func (r *Registry) RegistryHosts() []string {
	hosts := make([]string, 0, len(r.registries))
	for _, u := range r.registries {
		hosts = append(hosts, hostnameOf(strings.ToLower(u)))
	}
	return hosts
}

// Discover polls every configured discovery registry for agent
// descriptors and merges newly seen ones in as community-trust entries.
func (r *Registry) Discover(ctx context.Context) error {
	for _, regURL := range r.registries {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, regURL, nil)
		if err != nil {
			continue
		}
		resp, err := r.client.Do(req)
		if err != nil {
			continue
		}
		var descriptors []RemoteAgent
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
		resp.Body.Close()
		if json.Unmarshal(body, &descriptors) != nil {
			continue
		}
		r.mu.Lock()
		for _, d := range descriptors {
			if d.TrustLevel == "" {
				d.TrustLevel = TrustCommunity
			}
			if _, exists := r.entries[d.URL]; !exists {
				r.entries[d.URL] = &registryEntry{RemoteAgent: d, LastSeen: time.Now().UTC()}
			}
		}
		r.mu.Unlock()
	}
	return nil
}

// RecordFailure marks an entry unhealthy rather than throwing (spec §7's
// propagation policy).
func (r *Registry) RecordFailure(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[url]; ok {
		e.FailureCount++
	}
}

// RecordSuccess resets an entry's failure count and bumps LastSeen.
func (r *Registry) RecordSuccess(url string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if e, ok := r.entries[url]; ok {
		e.FailureCount = 0
		e.LastSeen = time.Now().UTC()
	}
}

// Resolve implements spec §4.9.8's resolve(): "auto" returns the top
// capability match for requiredSkills; an explicit URL returns the
// existing entry or a freshly created untrusted one.
func (r *Registry) Resolve(target string, requiredSkills []string) (RemoteAgent, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if target != "auto" && target != "" {
		if e, ok := r.entries[target]; ok {
			return e.RemoteAgent, nil
		}
		fresh := RemoteAgent{URL: target, TrustLevel: TrustUntrusted}
		r.entries[target] = &registryEntry{RemoteAgent: fresh, LastSeen: time.Now().UTC()}
		return fresh, nil
	}

	matches := r.rankedMatches(requiredSkills)
	if len(matches) == 0 {
		return RemoteAgent{}, fmt.Errorf("a2a: no healthy agent matches skills %v", requiredSkills)
	}
	return matches[0].RemoteAgent, nil
}

// rankedMatches scores every healthy entry by lowercase skill overlap ×10
// plus a trust bonus (verified=3, community=2, untrusted=1), descending.
func (r *Registry) rankedMatches(requiredSkills []string) []*registryEntry {
	want := make(map[string]struct{}, len(requiredSkills))
	for _, s := range requiredSkills {
		want[strings.ToLower(s)] = struct{}{}
	}

	type scored struct {
		entry *registryEntry
		score int
	}
	var ranked []scored
	for _, e := range r.entries {
		if !e.healthy() {
			continue
		}
		overlap := 0
		for _, s := range e.Skills {
			if _, ok := want[strings.ToLower(s)]; ok {
				overlap++
			}
		}
		score := overlap*10 + trustBonus(e.TrustLevel)
		ranked = append(ranked, scored{entry: e, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool { return ranked[i].score > ranked[j].score })

	out := make([]*registryEntry, len(ranked))
	for i, s := range ranked {
		out[i] = s.entry
	}
	return out
}

func trustBonus(level string) int {
	switch level {
	case TrustVerified:
		return 3
	case TrustCommunity:
		return 2
	default:
		return 1
	}
}

// FetchCard fetches and TTL-caches url/.well-known/agent.json.
func (r *Registry) FetchCard(ctx context.Context, url string) (AgentCard, error) {
	r.mu.Lock()
	if cached, ok := r.cards[url]; ok && time.Since(cached.fetchedAt) < cardCacheTTL {
		r.mu.Unlock()
		return cached.card, nil
	}
	r.mu.Unlock()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, strings.TrimRight(url, "/")+"/.well-known/agent.json", nil)
	if err != nil {
		return AgentCard{}, err
	}
	resp, err := r.client.Do(req)
	if err != nil {
		return AgentCard{}, err
	}
	defer resp.Body.Close()
	var card AgentCard
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err := json.Unmarshal(body, &card); err != nil {
		return AgentCard{}, err
	}

	r.mu.Lock()
	r.cards[url] = cardCacheEntry{fetchedAt: time.Now().UTC(), card: card}
	r.mu.Unlock()
	return card, nil
}
