package syncload

import (
	"time"

	"github.com/brianvoe/gofakeit/v7"
)

// pubkeyLength matches the length of a base58 encoded ed25519 key.
const pubkeyLength = 44

// stakeStep quantizes stakes so that ties are common and the pubkey
// tie-break is exercised.
const stakeStep = 1_000

// Record mirrors the sync wire format.
type Record struct {
	Type          string  `json:"type"`
	Pubkey        string  `json:"pubkey"`
	Name          string  `json:"name"`
	TotalStaked   int64   `json:"total_staked"`
	MemberCount   *int64  `json:"member_count,omitempty"`
	TwitterHandle *string `json:"twitter_handle,omitempty"`
}

// Generator produces reproducible fake squads and members.
type Generator struct {
	faker *gofakeit.Faker
	seed  int64
}

// NewGenerator creates a generator. A zero seed uses the clock.
func NewGenerator(seed int64) *Generator {
	if seed == 0 {
		seed = time.Now().UnixNano()
	}
	return &Generator{faker: gofakeit.New(uint64(seed)), seed: seed}
}

// Seed returns the seed in use so a run can be replayed.
func (g *Generator) Seed() int64 { return g.seed }

// Population generates squads and members with unique pubkeys per type.
func (g *Generator) Population(squads, members int) []Record {
	out := make([]Record, 0, squads+members)
	out = append(out, g.generate("squad", squads)...)
	out = append(out, g.generate("member", members)...)
	return out
}

func (g *Generator) generate(typ string, n int) []Record {
	seen := make(map[string]struct{}, n)
	out := make([]Record, 0, n)
	for len(out) < n {
		pk := g.faker.LetterN(pubkeyLength)
		if _, dup := seen[pk]; dup {
			continue
		}
		seen[pk] = struct{}{}

		r := Record{Type: typ, Pubkey: pk}
		if typ == "squad" {
			r.Name = g.faker.Company()
			count := int64(g.faker.Number(1, 500))
			r.MemberCount = &count
		} else {
			r.Name = g.faker.Name()
		}
		if g.faker.Bool() {
			handle := "@" + g.faker.Username()
			r.TwitterHandle = &handle
		}
		g.Restake(&r)
		out = append(out, r)
	}
	return out
}

// Restake assigns r a new random stake.
func (g *Generator) Restake(r *Record) {
	r.TotalStaked = int64(g.faker.Number(0, 5_000)) * stakeStep
}
