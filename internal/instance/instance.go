// Package instance resolves the identity this process stamps on the jobs it
// dispatches and keeps its row in the instance registry fresh.
//
// The identity is the hardware address of the first physical, non-loopback
// interface that is up. Hypervisor-assigned addresses are skipped. When no
// such interface exists the hostname is used instead.
package instance

import (
	"context"
	"fmt"
	"log"
	"net"
	"os"
	"strings"
	"time"

	"github.com/khachaneojas/service-scheduler/internal/domain"
)

type Store interface {
	RegisterInstance(ctx context.Context, in domain.Instance) error
	Heartbeat(ctx context.Context, identity string, at time.Time) error
}

// OUI prefixes handed out by hypervisors.
var virtualPrefixes = [][3]byte{
	{0x00, 0x05, 0x69}, // VMware
	{0x00, 0x1C, 0x14}, // VMware
	{0x00, 0x0C, 0x29}, // VMware
	{0x00, 0x50, 0x56}, // VMware
	{0x08, 0x00, 0x27}, // VirtualBox
	{0x0A, 0x00, 0x27}, // VirtualBox
	{0x00, 0x03, 0xFF}, // Virtual PC
	{0x00, 0x15, 0x5D}, // Hyper-V
}

func isVirtual(mac net.HardwareAddr) bool {
	if len(mac) < 3 {
		return false
	}
	for _, p := range virtualPrefixes {
		if mac[0] == p[0] && mac[1] == p[1] && mac[2] == p[2] {
			return true
		}
	}
	return false
}

// FormatMAC renders mac as upper-case, dash-separated octets.
func FormatMAC(mac net.HardwareAddr) string {
	parts := make([]string, len(mac))
	for i, b := range mac {
		parts[i] = fmt.Sprintf("%02X", b)
	}
	return strings.Join(parts, "-")
}

// Resolver finds the local identity. The function fields are replaced in
// tests.
type Resolver struct {
	Interfaces func() ([]net.Interface, error)
	Hostname   func() (string, error)
}

func NewResolver() Resolver {
	return Resolver{Interfaces: net.Interfaces, Hostname: os.Hostname}
}

// Identity returns the first usable MAC address, the hostname when there is
// none, and "unknown" when neither can be read.
func (r Resolver) Identity() string {
	if ifaces, err := r.Interfaces(); err == nil {
		for _, iface := range ifaces {
			if iface.Flags&net.FlagLoopback != 0 || iface.Flags&net.FlagUp == 0 {
				continue
			}
			if len(iface.HardwareAddr) == 0 || isVirtual(iface.HardwareAddr) {
				continue
			}
			return FormatMAC(iface.HardwareAddr)
		}
	} else {
		log.Printf("instance: list interfaces: %v", err)
	}

	host, err := r.Hostname()
	if err != nil || host == "" {
		log.Printf("instance: no hardware address or hostname, identity is unknown")
		return "unknown"
	}
	return host
}

// Heart registers the instance once and then refreshes its heartbeat on a
// fixed interval.
type Heart struct {
	store    Store
	instance domain.Instance
	interval time.Duration
	clock    func() time.Time
}

func NewHeart(store Store, identity, hostname string, interval time.Duration) *Heart {
	return &Heart{
		store:    store,
		instance: domain.Instance{Identity: identity, Hostname: hostname},
		interval: interval,
		clock:    time.Now,
	}
}

func (h *Heart) WithClock(clock func() time.Time) *Heart {
	h.clock = clock
	return h
}

func (h *Heart) Identity() string {
	return h.instance.Identity
}

// Register upserts the registry row with a fresh start time.
func (h *Heart) Register(ctx context.Context) error {
	now := h.clock().UTC()
	h.instance.StartedAt = now
	h.instance.LastHeartbeat = now
	if err := h.store.RegisterInstance(ctx, h.instance); err != nil {
		return fmt.Errorf("register instance %s: %w", h.instance.Identity, err)
	}
	log.Printf("instance: registered identity=%s host=%s", h.instance.Identity, h.instance.Hostname)
	return nil
}

// Beat writes one heartbeat. A row removed out from under the process is
// registered again.
func (h *Heart) Beat(ctx context.Context) error {
	now := h.clock().UTC()
	err := h.store.Heartbeat(ctx, h.instance.Identity, now)
	if err == nil {
		h.instance.LastHeartbeat = now
		return nil
	}
	if rerr := h.store.RegisterInstance(ctx, domain.Instance{
		Identity:      h.instance.Identity,
		Hostname:      h.instance.Hostname,
		StartedAt:     h.instance.StartedAt,
		LastHeartbeat: now,
	}); rerr != nil {
		return fmt.Errorf("heartbeat: %w (re-register: %v)", err, rerr)
	}
	h.instance.LastHeartbeat = now
	log.Printf("instance: heartbeat failed (%v), re-registered identity=%s", err, h.instance.Identity)
	return nil
}

// Run beats until ctx is cancelled.
func (h *Heart) Run(ctx context.Context) {
	ticker := time.NewTicker(h.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			log.Println("instance: heartbeat stopped")
			return
		case <-ticker.C:
			if err := h.Beat(ctx); err != nil {
				log.Printf("instance: %v", err)
			}
		}
	}
}
