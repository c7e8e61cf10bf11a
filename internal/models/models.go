// internal/models/models.go
package models

import (
	"fmt"
	"net"
	"strings"
	"time"
)

// Status is the health classification of an address.
type Status string

const (
	StatusUnknown Status = "unknown"
	StatusUp      Status = "up"
	StatusDown    Status = "down"
)

// IsValid returns true if the status is one of the known values
func (s Status) IsValid() bool {
	switch s {
	case StatusUnknown, StatusUp, StatusDown:
		return true
	default:
		return false
	}
}

// String returns the string representation of the status
func (s Status) String() string {
	return string(s)
}

// StatusFromSample converts a boolean reachability sample to a status.
func StatusFromSample(up bool) Status {
	if up {
		return StatusUp
	}
	return StatusDown
}

// RecordType represents the DNS record types the controller manages.
// Failover only makes sense for address records.
type RecordType string

const (
	RecordTypeA    RecordType = "A"
	RecordTypeAAAA RecordType = "AAAA"
)

// IsValid returns true if the record type is supported
func (rt RecordType) IsValid() bool {
	switch rt {
	case RecordTypeA, RecordTypeAAAA:
		return true
	default:
		return false
	}
}

// String returns the string representation of the record type
func (rt RecordType) String() string {
	return string(rt)
}

// Endpoint uniquely identifies one candidate DNS target. Immutable once
// created; it is the primary key of the host_states table.
type Endpoint struct {
	ZoneID  string
	Name    string
	Type    string
	Address string
}

// NewEndpoint creates a normalized endpoint key
func NewEndpoint(zoneID, name, recordType, address string) Endpoint {
	return Endpoint{
		ZoneID:  zoneID,
		Name:    NormalizeDomainName(name),
		Type:    strings.ToUpper(recordType),
		Address: address,
	}
}

// String returns a human-readable key, used in logs
func (e Endpoint) String() string {
	return fmt.Sprintf("%s/%s/%s/%s", e.ZoneID, e.Name, e.Type, e.Address)
}

// HostState is the persisted aggregate health state for one endpoint.
// Exactly one of ConsecutiveUp/ConsecutiveDown is nonzero at any time
// (both zero only transiently at initialization).
type HostState struct {
	Key             Endpoint
	LastStatus      Status
	ConsecutiveUp   uint
	ConsecutiveDown uint
	StableStatus    Status
	StableChangedAt *time.Time
	LastChangedAt   *time.Time
	LastCheckedAt   *time.Time
}

// LocalRecord is the locally persisted mirror of one provider record.
type LocalRecord struct {
	ID            string
	ZoneID        string
	Name          string
	Type          string
	Content       string
	TTL           int
	Proxied       bool
	Status        Status
	LastCheckedAt *time.Time
	CreatedAt     time.Time
	UpdatedAt     time.Time
}

// Validate performs validation on a local record before it is persisted
func (r *LocalRecord) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id cannot be empty")
	}
	if r.ZoneID == "" {
		return fmt.Errorf("zone id cannot be empty")
	}
	if r.Name == "" {
		return fmt.Errorf("name cannot be empty")
	}

	recordType := RecordType(r.Type)
	if !recordType.IsValid() {
		return fmt.Errorf("unsupported record type: %s", r.Type)
	}

	if r.Content == "" {
		return fmt.Errorf("content cannot be empty")
	}

	switch recordType {
	case RecordTypeA:
		if ip := net.ParseIP(r.Content); ip == nil || ip.To4() == nil {
			return fmt.Errorf("invalid IPv4 address: %s", r.Content)
		}
	case RecordTypeAAAA:
		if ip := net.ParseIP(r.Content); ip == nil || ip.To4() != nil {
			return fmt.Errorf("invalid IPv6 address: %s", r.Content)
		}
	}

	if r.TTL < 0 {
		return fmt.Errorf("negative TTL: %d", r.TTL)
	}

	return nil
}

// Normalize ensures the record has consistent formatting
func (r *LocalRecord) Normalize() {
	r.Name = NormalizeDomainName(r.Name)
	r.Type = strings.ToUpper(r.Type)
	if ip := net.ParseIP(r.Content); ip != nil {
		r.Content = ip.String()
	}
	if r.TTL <= 0 {
		r.TTL = 1 // provider convention for "automatic"
	}
	if !r.Status.IsValid() {
		r.Status = StatusUnknown
	}
}

// ProviderRecord is one record as reported by the DNS provider's API.
type ProviderRecord struct {
	ID      string `json:"id"`
	ZoneID  string `json:"zone_id"`
	Name    string `json:"name"`
	Type    string `json:"type"`
	Content string `json:"content"`
	TTL     int    `json:"ttl"`
	Proxied bool   `json:"proxied"`
}

// Local converts a provider record to its local mirror form
func (p *ProviderRecord) Local(zoneID string) *LocalRecord {
	rec := &LocalRecord{
		ID:      p.ID,
		ZoneID:  zoneID,
		Name:    p.Name,
		Type:    p.Type,
		Content: p.Content,
		TTL:     p.TTL,
		Proxied: p.Proxied,
		Status:  StatusUnknown,
	}
	rec.Normalize()
	return rec
}

// NormalizeDomainName normalizes a hostname for consistent storage/lookup
func NormalizeDomainName(name string) string {
	return strings.ToLower(strings.TrimSuffix(name, "."))
}
