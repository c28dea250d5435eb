package discovery

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"net"
	"sort"
)

// GenerateInstanceName returns a random 64-bit instance name as 16
// uppercase hex characters.
func GenerateInstanceName() (string, error) {
	var buf [8]byte
	if _, err := rand.Read(buf[:]); err != nil {
		return "", err
	}
	return fmt.Sprintf("%016X", binary.BigEndian.Uint64(buf[:])), nil
}

// SortIPsByPreference orders addresses for dialing. Priority order
// (highest to lowest):
//  1. IPv4 addresses other than loopback
//  2. Global and unique local IPv6 addresses
//  3. Link-local IPv6 addresses
//  4. Loopback and everything else
//
// Link-local IPv6 needs a zone that mDNS answers do not carry, so it ranks
// below IPv4.
func SortIPsByPreference(ips []net.IP) []net.IP {
	if len(ips) <= 1 {
		return ips
	}

	// Make a copy to avoid modifying the original slice
	sorted := make([]net.IP, len(ips))
	copy(sorted, ips)

	sort.SliceStable(sorted, func(i, j int) bool {
		return ipPriority(sorted[i]) < ipPriority(sorted[j])
	})

	return sorted
}

// ipPriority returns the priority of an IP address (lower is better).
func ipPriority(ip net.IP) int {
	if ip.To16() == nil {
		return 99 // Invalid
	}

	switch {
	case ip.IsLoopback():
		return 80
	case ip.IsMulticast():
		return 90
	case ip.To4() != nil:
		return 0
	case isUniqueLocal(ip), ip.IsGlobalUnicast():
		return 1
	case ip.IsLinkLocalUnicast():
		return 2
	}
	return 10
}

// isUniqueLocal returns true if the IP is an IPv6 Unique Local Address (fc00::/7).
func isUniqueLocal(ip net.IP) bool {
	if ip.To4() != nil {
		return false
	}
	ip = ip.To16()
	if ip == nil {
		return false
	}
	return ip[0] == 0xfc || ip[0] == 0xfd
}

// FilterIPv6 returns only IPv6 addresses from the slice.
func FilterIPv6(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() == nil && ip.To16() != nil {
			result = append(result, ip)
		}
	}
	return result
}

// FilterIPv4 returns only IPv4 addresses from the slice.
func FilterIPv4(ips []net.IP) []net.IP {
	var result []net.IP
	for _, ip := range ips {
		if ip.To4() != nil {
			result = append(result, ip)
		}
	}
	return result
}
