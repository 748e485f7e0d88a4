// Package balancer implements the selection algorithms used to pick one
// credential (or one server) out of a bounded, admin-curated candidate set.
// All functions are pure over the supplied candidates; persistence of the
// round-robin cursor is the caller's responsibility.
package balancer

import (
	"hash/crc32"
	"math"
	"math/rand"

	"github.com/chiquitav2/subfleet/internal/fleet/db"
)

// Candidate pairs an access key with the server it currently lives on
type Candidate struct {
	Key    db.AccessKey
	Server db.Server
}

// Weights of the two load components in the server score
const (
	keyCountWeight = 0.6
	usageWeight    = 0.4
)

// PickIPHash returns a deterministic index for the client's source address.
// The same client IP maps to the same candidate, which protocols with session
// affinity rely on.
func PickIPHash(n int, clientIP string) int {
	if n <= 1 {
		return 0
	}
	sum := crc32.ChecksumIEEE([]byte(clientIP))
	return int(sum % uint32(n))
}

// PickRandom returns a uniform random index
func PickRandom(n int) int {
	if n <= 1 {
		return 0
	}
	return rand.Intn(n)
}

// NextRoundRobin advances the persisted cursor by one position. A fresh
// cursor of -1 starts the rotation at index 0.
func NextRoundRobin(lastIndex, n int) int {
	if n <= 0 {
		return 0
	}
	if lastIndex < 0 {
		return 0
	}
	return (lastIndex + 1) % n
}

// ScoredServer carries the normalized 0-100 load score for one server
type ScoredServer struct {
	ServerID string
	Score    float64
}

// ScoreServers computes the load score for each server: active-key density
// weighted at 0.6 plus bandwidth share weighted at 0.4, scaled to 0-100 and
// rounded to one decimal. Normalizing maxima are taken over the supplied
// group and floored at 1 so an empty fleet never divides by zero.
func ScoreServers(loads []db.ServerLoad) []ScoredServer {
	maxKeys := 1
	var maxBytes int64 = 1
	for _, l := range loads {
		if l.ActiveKeys > maxKeys {
			maxKeys = l.ActiveKeys
		}
		if l.UsedBytes > maxBytes {
			maxBytes = l.UsedBytes
		}
	}

	scored := make([]ScoredServer, 0, len(loads))
	for _, l := range loads {
		score := keyCountWeight*float64(l.ActiveKeys)/float64(maxKeys) +
			usageWeight*float64(l.UsedBytes)/float64(maxBytes)
		scored = append(scored, ScoredServer{
			ServerID: l.ServerID,
			Score:    math.Round(score*1000) / 10,
		})
	}
	return scored
}

// LeastLoadedServer returns the server id with the minimum load score. Ties
// are broken by uniform random choice among the tied servers.
func LeastLoadedServer(loads []db.ServerLoad) string {
	if len(loads) == 0 {
		return ""
	}

	scored := ScoreServers(loads)
	min := scored[0].Score
	for _, s := range scored[1:] {
		if s.Score < min {
			min = s.Score
		}
	}

	var tied []string
	for _, s := range scored {
		if s.Score == min {
			tied = append(tied, s.ServerID)
		}
	}
	return tied[PickRandom(len(tied))]
}

// PickLeastLoaded groups candidates by server, finds the least loaded server
// by score, and picks uniformly at random among that server's candidates.
func PickLeastLoaded(candidates []Candidate) int {
	if len(candidates) <= 1 {
		return 0
	}

	byServer := make(map[string][]int)
	var loads []db.ServerLoad
	for i, c := range candidates {
		if _, seen := byServer[c.Server.ID]; !seen {
			loads = append(loads, db.ServerLoad{ServerID: c.Server.ID})
		}
		byServer[c.Server.ID] = append(byServer[c.Server.ID], i)
	}
	for i := range loads {
		for _, idx := range byServer[loads[i].ServerID] {
			if candidates[idx].Key.Status == db.StatusActive {
				loads[i].ActiveKeys++
			}
			loads[i].UsedBytes += candidates[idx].Key.EffectiveUsage()
		}
	}

	winner := LeastLoadedServer(loads)
	onWinner := byServer[winner]
	return onWinner[PickRandom(len(onWinner))]
}

// Selection is the outcome of a dispatch: the chosen candidate index plus the
// new round-robin cursor to persist when CursorDirty is set.
type Selection struct {
	Index       int
	Cursor      int
	CursorDirty bool
}

// Select dispatches on the pool's configured algorithm. Unrecognized values
// behave as IP_HASH.
func Select(alg db.Algorithm, candidates []Candidate, clientIP string, lastIndex int) Selection {
	n := len(candidates)
	switch alg {
	case db.AlgRandom:
		return Selection{Index: PickRandom(n)}
	case db.AlgRoundRobin:
		next := NextRoundRobin(lastIndex, n)
		return Selection{Index: next, Cursor: next, CursorDirty: true}
	case db.AlgLeastLoad:
		return Selection{Index: PickLeastLoaded(candidates)}
	case db.AlgIPHash:
		return Selection{Index: PickIPHash(n, clientIP)}
	default:
		return Selection{Index: PickIPHash(n, clientIP)}
	}
}
