package models

import (
	"encoding/json"
	"fmt"
	"time"
)

// Replica-set configuration limits and defaults.
const (
	// MaxMembers is the maximum number of members in a replica set.
	MaxMembers = 50

	// DefaultHeartbeatTimeout bounds a full heartbeat round, retries
	// included. Overridable via settings.heartbeatTimeoutSecs.
	DefaultHeartbeatTimeout = 5 * time.Second

	// DefaultElectionTimeout is the default election timeout.
	DefaultElectionTimeout = 10 * time.Second
)

// MemberConfig holds the declarative attributes of a single replica-set
// member, as found in the "members" array of the configuration document.
type MemberConfig struct {
	// ID is the member's unique id within the set.
	ID int32

	// Host is the member's address; DefaultMemberPort applies when the
	// document carries no port.
	Host HostPort

	// Priority orders candidates for primary. Zero means the member can
	// never become primary. Default 1.0.
	Priority float64

	// Votes is the member's voting weight, 0 or 1. Default 1.
	Votes int

	// Hidden is carried in the configuration document; the coordinator
	// does not treat hidden members differently, and status documents
	// list them like any other member.
	Hidden bool

	// ArbiterOnly members vote but hold no data.
	ArbiterOnly bool

	// BuildIndexes must be true unless Priority is zero. Default true.
	BuildIndexes bool

	// SlaveDelay is the member's intentional replication lag.
	SlaveDelay time.Duration
}

// IsVoter reports whether the member has a vote.
func (m *MemberConfig) IsVoter() bool { return m.Votes > 0 }

// memberConfigDoc is the JSON shape of a member entry; pointers distinguish
// absent fields so defaults can apply.
type memberConfigDoc struct {
	ID           *int32   `json:"_id"`
	Host         string   `json:"host"`
	Priority     *float64 `json:"priority,omitempty"`
	Votes        *int     `json:"votes,omitempty"`
	Hidden       bool     `json:"hidden,omitempty"`
	ArbiterOnly  bool     `json:"arbiterOnly,omitempty"`
	BuildIndexes *bool    `json:"buildIndexes,omitempty"`
	SlaveDelay   *int64   `json:"slaveDelay,omitempty"`
}

// UnmarshalJSON decodes a member entry, applying document defaults.
func (m *MemberConfig) UnmarshalJSON(data []byte) error {
	var doc memberConfigDoc
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	if doc.ID == nil {
		return fmt.Errorf("%w: member entry is missing _id", ErrBadValue)
	}
	host, err := NewHostPort(doc.Host)
	if err != nil {
		return err
	}
	m.ID = *doc.ID
	m.Host = host
	m.Priority = 1.0
	if doc.Priority != nil {
		m.Priority = *doc.Priority
	}
	m.Votes = 1
	if doc.Votes != nil {
		m.Votes = *doc.Votes
	}
	m.Hidden = doc.Hidden
	m.ArbiterOnly = doc.ArbiterOnly
	m.BuildIndexes = true
	if doc.BuildIndexes != nil {
		m.BuildIndexes = *doc.BuildIndexes
	}
	if doc.SlaveDelay != nil {
		m.SlaveDelay = time.Duration(*doc.SlaveDelay) * time.Second
	}
	return nil
}

// MarshalJSON encodes a member entry in its wire shape.
func (m MemberConfig) MarshalJSON() ([]byte, error) {
	id := m.ID
	doc := memberConfigDoc{
		ID:   &id,
		Host: m.Host.String(),
	}
	if m.Priority != 1.0 {
		p := m.Priority
		doc.Priority = &p
	}
	if m.Votes != 1 {
		v := m.Votes
		doc.Votes = &v
	}
	doc.Hidden = m.Hidden
	doc.ArbiterOnly = m.ArbiterOnly
	if !m.BuildIndexes {
		b := false
		doc.BuildIndexes = &b
	}
	if m.SlaveDelay > 0 {
		d := int64(m.SlaveDelay / time.Second)
		doc.SlaveDelay = &d
	}
	return json.Marshal(doc)
}

// ReplicaSetSettings carries the optional "settings" sub-document.
type ReplicaSetSettings struct {
	// HeartbeatTimeoutSecs overrides DefaultHeartbeatTimeout.
	HeartbeatTimeoutSecs *int `json:"heartbeatTimeoutSecs,omitempty"`

	// ChainingAllowed permits syncing from non-primary members.
	// Default true.
	ChainingAllowed *bool `json:"chainingAllowed,omitempty"`

	// ElectionTimeoutMillis overrides DefaultElectionTimeout.
	ElectionTimeoutMillis *int64 `json:"electionTimeoutMillis,omitempty"`
}

// ReplicaSetConfig is the parsed, validated membership document. It is
// immutable once accepted by the coordinator.
type ReplicaSetConfig struct {
	// Name is the replica-set name (the document's "_id").
	Name string `json:"_id"`

	// Version increases monotonically with each reconfiguration.
	Version int64 `json:"version"`

	// Members is the ordered member list.
	Members []MemberConfig `json:"members"`

	// Settings is the optional settings sub-document.
	Settings *ReplicaSetSettings `json:"settings,omitempty"`
}

// HeartbeatTimeout returns the configured heartbeat timeout.
func (c *ReplicaSetConfig) HeartbeatTimeout() time.Duration {
	if c.Settings != nil && c.Settings.HeartbeatTimeoutSecs != nil {
		return time.Duration(*c.Settings.HeartbeatTimeoutSecs) * time.Second
	}
	return DefaultHeartbeatTimeout
}

// ChainingAllowed reports whether members may sync from non-primaries.
func (c *ReplicaSetConfig) ChainingAllowed() bool {
	if c.Settings != nil && c.Settings.ChainingAllowed != nil {
		return *c.Settings.ChainingAllowed
	}
	return true
}

// ElectionTimeout returns the configured election timeout.
func (c *ReplicaSetConfig) ElectionTimeout() time.Duration {
	if c.Settings != nil && c.Settings.ElectionTimeoutMillis != nil {
		return time.Duration(*c.Settings.ElectionTimeoutMillis) * time.Millisecond
	}
	return DefaultElectionTimeout
}

// FindMemberIndex returns the index of the member with the given address,
// or -1 when no member matches.
func (c *ReplicaSetConfig) FindMemberIndex(host HostPort) int {
	for i := range c.Members {
		if c.Members[i].Host == host {
			return i
		}
	}
	return -1
}

// FindMemberIndexByID returns the index of the member with the given id,
// or -1 when no member matches.
func (c *ReplicaSetConfig) FindMemberIndexByID(id int32) int {
	for i := range c.Members {
		if c.Members[i].ID == id {
			return i
		}
	}
	return -1
}

// TotalVotes returns the sum of all members' votes.
func (c *ReplicaSetConfig) TotalVotes() int {
	total := 0
	for i := range c.Members {
		total += c.Members[i].Votes
	}
	return total
}

// MajorityVoteCount returns the number of votes forming a majority.
func (c *ReplicaSetConfig) MajorityVoteCount() int {
	return c.TotalVotes()/2 + 1
}

// Validate checks the structural invariants of the configuration document.
// All violations are reported as ErrBadValue.
func (c *ReplicaSetConfig) Validate() error {
	if c.Name == "" {
		return fmt.Errorf("%w: replica set name must not be empty", ErrBadValue)
	}
	if c.Version < 1 {
		return fmt.Errorf("%w: config version must be positive, got %d", ErrBadValue, c.Version)
	}
	if len(c.Members) == 0 || len(c.Members) > MaxMembers {
		return fmt.Errorf("%w: replica set must have between 1 and %d members, got %d",
			ErrBadValue, MaxMembers, len(c.Members))
	}

	seenIDs := make(map[int32]bool, len(c.Members))
	seenHosts := make(map[HostPort]bool, len(c.Members))
	voters := 0
	for i := range c.Members {
		m := &c.Members[i]
		if seenIDs[m.ID] {
			return fmt.Errorf("%w: duplicate member _id %d", ErrBadValue, m.ID)
		}
		seenIDs[m.ID] = true
		if seenHosts[m.Host] {
			return fmt.Errorf("%w: duplicate member host %q", ErrBadValue, m.Host)
		}
		seenHosts[m.Host] = true

		if m.Priority < 0 {
			return fmt.Errorf("%w: member %d has negative priority", ErrBadValue, m.ID)
		}
		if m.Votes != 0 && m.Votes != 1 {
			return fmt.Errorf("%w: member %d votes must be 0 or 1, got %d", ErrBadValue, m.ID, m.Votes)
		}
		if !m.BuildIndexes && m.Priority != 0 {
			return fmt.Errorf("%w: member %d cannot have buildIndexes=false with priority %g",
				ErrBadValue, m.ID, m.Priority)
		}
		if m.ArbiterOnly && !m.BuildIndexes {
			return fmt.Errorf("%w: member %d is an arbiter and cannot set buildIndexes=false",
				ErrBadValue, m.ID)
		}
		if m.SlaveDelay < 0 {
			return fmt.Errorf("%w: member %d has negative slaveDelay", ErrBadValue, m.ID)
		}
		if m.IsVoter() {
			voters++
		}
	}
	if voters == 0 {
		return fmt.Errorf("%w: replica set must have at least one voting member", ErrBadValue)
	}
	return nil
}
