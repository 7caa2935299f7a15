// Package orgs maps IP addresses to the organizations that operate them.
// Lookups are best-effort: a failure yields no organization and is never
// surfaced to report callers.
package orgs

import (
	"fmt"
	"net"
	"sync"

	"github.com/oschwald/geoip2-golang"
	log "github.com/sirupsen/logrus"

	"github.com/xHacka/access-log-analyzer/internal/repository"
)

// Resolver returns the organization for a single IP.
type Resolver interface {
	Organization(ip string) (string, error)
}

// GeoIPResolver reads autonomous system organizations from a MaxMind ASN database.
type GeoIPResolver struct {
	db   *geoip2.Reader
	lock sync.RWMutex
}

func OpenGeoIP(path string) (*GeoIPResolver, error) {
	db, err := geoip2.Open(path)
	if err != nil {
		return nil, err
	}
	return &GeoIPResolver{db: db}, nil
}

func (r *GeoIPResolver) Organization(ip string) (string, error) {
	r.lock.RLock()
	defer r.lock.RUnlock()

	if r.db == nil {
		return "", fmt.Errorf("geoip database closed")
	}
	parsed := net.ParseIP(ip)
	if parsed == nil {
		return "", fmt.Errorf("invalid ip %q", ip)
	}
	record, err := r.db.ASN(parsed)
	if err != nil {
		return "", err
	}
	return record.AutonomousSystemOrganization, nil
}

func (r *GeoIPResolver) Close() error {
	r.lock.Lock()
	defer r.lock.Unlock()

	if r.db == nil {
		return nil
	}
	err := r.db.Close()
	r.db = nil
	return err
}

// Cache memoizes a Resolver for the life of the process. Each IP is resolved
// at most once, failures included, and entries are never invalidated.
type Cache struct {
	resolver Resolver

	mu      sync.Mutex
	entries map[string]string
}

func NewCache(resolver Resolver) *Cache {
	return &Cache{resolver: resolver, entries: make(map[string]string)}
}

// Lookup returns the known organizations for ips. IPs without one are absent
// from the result.
func (c *Cache) Lookup(ips []string) map[string]string {
	out := make(map[string]string, len(ips))
	if c == nil || c.resolver == nil {
		return out
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	for _, ip := range ips {
		org, ok := c.entries[ip]
		if !ok {
			var err error
			org, err = c.resolver.Organization(ip)
			if err != nil {
				log.WithField("ip", ip).Debugf("organization lookup: %v", err)
				org = ""
			}
			c.entries[ip] = org
		}
		if org != "" {
			out[ip] = org
		}
	}
	return out
}

// Annotate fills the Organization of each stat in place.
func (c *Cache) Annotate(stats []repository.IPStat) {
	ips := make([]string, len(stats))
	for i, s := range stats {
		ips[i] = s.IP
	}
	found := c.Lookup(ips)
	for i := range stats {
		stats[i].Organization = found[stats[i].IP]
	}
}

// Len is the number of cached IPs.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
