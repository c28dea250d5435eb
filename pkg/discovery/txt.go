package discovery

import (
	"strconv"
	"strings"

	"github.com/backkem/screenview/pkg/protocol/rvd"
	"github.com/backkem/screenview/pkg/protocol/wpskka"
)

// Service identifiers.
const (
	// ServiceHost is the DNS-SD service type of hosts accepting direct connections.
	ServiceHost = "_screenview._tcp"

	// DefaultDomain is the mDNS domain.
	DefaultDomain = "local."
)

// TXT record keys.
const (
	TXTKeyName    = "n"  // Display name
	TXTKeyVersion = "v"  // RVD protocol version
	TXTKeySchemes = "as" // Offered auth schemes, comma separated numbers
)

// MaxNameLength is the longest display name a TXT record may carry.
const MaxNameLength = 63

// HostTXT is the TXT record of an advertised host.
type HostTXT struct {
	// Name is a human readable host name. Optional.
	Name string

	// Version is the RVD protocol version the host speaks.
	// Defaults to rvd.Version when empty.
	Version string

	// Schemes are the auth schemes the host offers, in preference order.
	Schemes []wpskka.AuthSchemeType
}

// Validate checks the record fits the limits of a TXT string.
func (h *HostTXT) Validate() error {
	if len(h.Name) > MaxNameLength {
		return ErrInvalidName
	}
	for _, s := range h.Schemes {
		if !s.IsValid() {
			return ErrInvalidTXTRecord
		}
	}
	return nil
}

// Encode returns the TXT strings for h.
func (h *HostTXT) Encode() []string {
	version := h.Version
	if version == "" {
		version = rvd.Version
	}

	records := []string{TXTKeyVersion + "=" + version}
	if h.Name != "" {
		records = append(records, TXTKeyName+"="+h.Name)
	}
	if len(h.Schemes) > 0 {
		parts := make([]string, len(h.Schemes))
		for i, s := range h.Schemes {
			parts[i] = strconv.Itoa(int(s))
		}
		records = append(records, TXTKeySchemes+"="+strings.Join(parts, ","))
	}
	return records
}

// ParseTXT parses raw TXT record strings into a map.
func ParseTXT(records []string) map[string]string {
	result := make(map[string]string)
	for _, record := range records {
		if idx := strings.IndexByte(record, '='); idx > 0 {
			result[record[:idx]] = record[idx+1:]
		}
	}
	return result
}

// ParseHostTXT parses raw TXT records into a HostTXT. Unknown keys are
// ignored.
func ParseHostTXT(records []string) (*HostTXT, error) {
	m := ParseTXT(records)
	h := &HostTXT{
		Name:    m[TXTKeyName],
		Version: m[TXTKeyVersion],
	}

	if v, ok := m[TXTKeySchemes]; ok && v != "" {
		for _, part := range strings.Split(v, ",") {
			n, err := strconv.ParseUint(part, 10, 8)
			if err != nil {
				return nil, ErrInvalidTXTRecord
			}
			s := wpskka.AuthSchemeType(n)
			if !s.IsValid() {
				return nil, ErrInvalidTXTRecord
			}
			h.Schemes = append(h.Schemes, s)
		}
	}
	return h, nil
}
