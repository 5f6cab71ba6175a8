package assign

import (
	"errors"
	"sync"

	"github.com/siherrmann/pseudonymizer/model"
)

// ErrPoolExhausted signals that a pool dimension has no names left. The
// assigner degrades to the numbered fallback scheme when it sees this.
var ErrPoolExhausted = errors.New("name pool exhausted")

// NamePool provides pseudonym candidates per component dimension. A pool
// must never return the same candidate twice within one instance, global
// uniqueness against the store is the assigner's job.
type NamePool interface {
	NextFirst(gender *model.Gender) (string, error)
	NextLast() (string, error)
	NextPlace() (string, error)
	NextOrg() (string, error)
	Theme() string
}

// Default themed name lists. Names are fictional and deliberately from a
// different cultural register than typical source documents so pseudonyms
// are recognizable as such.
var (
	defaultFemaleFirst = []string{
		"Astrid", "Freya", "Ingrid", "Sigrid", "Solveig", "Liv", "Maren",
		"Runa", "Thora", "Ylva", "Hedda", "Signe", "Tuva", "Embla",
	}
	defaultMaleFirst = []string{
		"Bjorn", "Erik", "Gunnar", "Henrik", "Lars", "Magnus", "Nils",
		"Olaf", "Sven", "Torsten", "Viggo", "Aksel", "Finn", "Leif",
	}
	defaultLast = []string{
		"Lindqvist", "Dahl", "Berg", "Holm", "Nystrom", "Fjell", "Strand",
		"Vinter", "Solberg", "Haugen", "Eriksen", "Nordli", "Aalberg",
		"Bakken", "Gran", "Lunde", "Moen", "Rud", "Stein", "Voll",
	}
	defaultPlaces = []string{
		"Riverton", "Greenfield", "Seaview", "Northvale", "Eastbrook",
		"Westmoor", "Stonebridge", "Ashford", "Clearwater", "Maplewood",
		"Frosthaven", "Larkspur", "Pinecrest", "Silverlake",
	}
	defaultOrgs = []string{
		"Northwind Group", "Aurora Holdings", "Polaris Partners",
		"Fjord Analytics", "Borealis Labs", "Midnight Sun Media",
		"Glacier Logistics", "Tundra Works", "Driftwood Trading",
		"Skyline Consortium",
	}
)

// DefaultNamePool is the built-in themed pool. It hands out each name at
// most once and signals ErrPoolExhausted per dimension.
type DefaultNamePool struct {
	mu        sync.Mutex
	femaleIdx int
	maleIdx   int
	lastIdx   int
	placeIdx  int
	orgIdx    int
}

// NewDefaultNamePool creates the built-in pool.
func NewDefaultNamePool() *DefaultNamePool {
	return &DefaultNamePool{}
}

// Theme names the pool for operation log entries.
func (p *DefaultNamePool) Theme() string {
	return "nordic"
}

// NextFirst returns the next first name candidate. Without a gender hint
// the pool alternates between the gendered lists.
func (p *DefaultNamePool) NextFirst(gender *model.Gender) (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	female := gender != nil && *gender == model.GenderFemale
	male := gender != nil && *gender == model.GenderMale
	if gender == nil {
		// Alternate to keep both lists draining evenly.
		female = p.femaleIdx <= p.maleIdx
		male = !female
	}

	if female {
		if p.femaleIdx >= len(defaultFemaleFirst) {
			return "", ErrPoolExhausted
		}
		name := defaultFemaleFirst[p.femaleIdx]
		p.femaleIdx++
		return name, nil
	}
	if male {
		if p.maleIdx >= len(defaultMaleFirst) {
			return "", ErrPoolExhausted
		}
		name := defaultMaleFirst[p.maleIdx]
		p.maleIdx++
		return name, nil
	}
	return "", ErrPoolExhausted
}

// NextLast returns the next last name candidate.
func (p *DefaultNamePool) NextLast() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.lastIdx >= len(defaultLast) {
		return "", ErrPoolExhausted
	}
	name := defaultLast[p.lastIdx]
	p.lastIdx++
	return name, nil
}

// NextPlace returns the next location pseudonym candidate.
func (p *DefaultNamePool) NextPlace() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.placeIdx >= len(defaultPlaces) {
		return "", ErrPoolExhausted
	}
	name := defaultPlaces[p.placeIdx]
	p.placeIdx++
	return name, nil
}

// NextOrg returns the next organization pseudonym candidate.
func (p *DefaultNamePool) NextOrg() (string, error) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if p.orgIdx >= len(defaultOrgs) {
		return "", ErrPoolExhausted
	}
	name := defaultOrgs[p.orgIdx]
	p.orgIdx++
	return name, nil
}
