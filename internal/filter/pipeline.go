// Package filter implements FilterPipeline: the composable predicate chain
// deciding whether a TwitterEvent reaches the delivery sinks (spec §4.3).
package filter

import (
	"sort"
	"strconv"
	"strings"
	"sync"

	"streamengine/internal/model"
	"streamengine/internal/util"
)

// Config is the pipeline's current, read-only snapshot shape.
type Config struct {
	Users      []string          `json:"users"`
	Keywords   []string          `json:"keywords"`
	EventTypes []model.EventType `json:"eventTypes"`
	Query      string            `json:"query"`
}

// HasActiveFilters reports whether Config differs from the all-pass default.
func (c Config) HasActiveFilters() bool {
	return len(c.Users) > 0 || len(c.Keywords) > 0 || len(c.EventTypes) < len(model.AllEventTypes()) || c.Query != ""
}

// Predicate is a pure, custom filter added via AddFilter. It receives the
// already-parsed event; returning false excludes the event, ANDed with
// every other active predicate (built-in or custom).
type Predicate func(*model.TwitterEvent) bool

// Pipeline ANDs its configured predicates; shouldDisplayEvent is pure with
// respect to the snapshot taken at call time.
type Pipeline struct {
	mu         sync.RWMutex
	users      map[string]bool // lower-cased usernames; empty = no constraint
	keywords   []string        // lower-cased, validated
	eventTypes map[model.EventType]bool
	query      string // lower-cased free-text query; empty = no constraint
	custom     map[string]Predicate
	nextID     int
}

// New returns a pipeline with the default configuration: all event types,
// no user constraint, no keywords.
func New() *Pipeline {
	return &Pipeline{
		users:      make(map[string]bool),
		eventTypes: model.AllEventTypes(),
		custom:     make(map[string]Predicate),
	}
}

// ShouldDisplayEvent is the pipeline's sole evaluation entry point. Pure:
// identical inputs (same event, same configuration at the time of the
// call) yield identical outputs and no field is mutated.
func (p *Pipeline) ShouldDisplayEvent(e *model.TwitterEvent) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()

	if !p.eventTypes[e.Type] {
		return false
	}

	if len(p.users) > 0 && !p.users[strings.ToLower(e.User.Username)] {
		return false
	}

	if len(p.keywords) > 0 || p.query != "" {
		text := strings.ToLower(SearchableText(e))
		if len(p.keywords) > 0 && !containsAny(text, p.keywords) {
			return false
		}
		if p.query != "" && !strings.Contains(text, p.query) {
			return false
		}
	}

	for _, pred := range p.custom {
		if !pred(e) {
			return false
		}
	}

	return true
}

// AddFilter registers a custom predicate and returns an id for RemoveFilter.
func (p *Pipeline) AddFilter(pred Predicate) string {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.nextID++
	id := "f" + strconv.Itoa(p.nextID)
	p.custom[id] = pred
	return id
}

// RemoveFilter unregisters a custom predicate; no-op if id is unknown.
func (p *Pipeline) RemoveFilter(id string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.custom, id)
}

func containsAny(haystack string, needles []string) bool {
	for _, n := range needles {
		if strings.Contains(haystack, n) {
			return true
		}
	}
	return false
}

// SetUsers replaces the user filter. Empty slice clears the constraint.
func (p *Pipeline) SetUsers(users []string) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[string]bool, len(users))
	for _, u := range users {
		p.users[strings.ToLower(u)] = true
	}
}

// SetKeywords validates and replaces the keyword filter. See ValidateKeywords.
func (p *Pipeline) SetKeywords(keywords []string) error {
	valid, err := ValidateKeywords(keywords)
	if err != nil {
		return err
	}
	p.mu.Lock()
	p.keywords = valid
	p.mu.Unlock()
	return nil
}

// SetEventTypes replaces the event-type filter. Empty slice means "all".
func (p *Pipeline) SetEventTypes(types []model.EventType) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if len(types) == 0 {
		p.eventTypes = model.AllEventTypes()
		return
	}
	p.eventTypes = make(map[model.EventType]bool, len(types))
	for _, t := range types {
		p.eventTypes[t] = true
	}
}

// SetQuery replaces the free-text search query.
func (p *Pipeline) SetQuery(query string) {
	p.mu.Lock()
	p.query = strings.ToLower(strings.TrimSpace(query))
	p.mu.Unlock()
}

// GetConfig returns a defensive-copy snapshot of the current configuration.
func (p *Pipeline) GetConfig() Config {
	p.mu.RLock()
	defer p.mu.RUnlock()

	userList := make([]string, 0, len(p.users))
	for u := range p.users {
		userList = append(userList, u)
	}
	users := util.SortedCopy(userList)

	var types []model.EventType
	if len(p.eventTypes) < len(model.AllEventTypes()) {
		for t := range p.eventTypes {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	} else {
		for t := range model.AllEventTypes() {
			types = append(types, t)
		}
		sort.Slice(types, func(i, j int) bool { return types[i] < types[j] })
	}

	return Config{
		Users:      users,
		Keywords:   append([]string(nil), p.keywords...),
		EventTypes: types,
		Query:      p.query,
	}
}

// ClearAll resets the pipeline to its default configuration.
func (p *Pipeline) ClearAll() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.users = make(map[string]bool)
	p.keywords = nil
	p.eventTypes = model.AllEventTypes()
	p.query = ""
	p.custom = make(map[string]Predicate)
}
