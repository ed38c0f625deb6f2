// Package announce advertises a running receiver's telemetry endpoint over
// mDNS and discovers other receivers on the local network.
package announce

import (
	"context"
	"fmt"
	"net"
	"sort"
	"strings"
	"time"

	"github.com/grandcat/zeroconf"

	"github.com/UbhaSecurity/gr-osmosdr/internal/logging"
)

const (
	// Service is the DNS-SD service type receivers register under.
	Service = "_bladerf-rx._tcp"
	// Domain is the mDNS domain.
	Domain = "local."
)

// Info describes the receiver being announced. It becomes the TXT record.
type Info struct {
	Instance   string
	Port       int
	Serial     string
	Board      string
	CenterHz   float64
	SampleRate float64
}

// TXT renders info as DNS-SD key=value strings.
func (i Info) TXT() []string {
	txt := []string{"path=/api/live"}
	if i.Serial != "" {
		txt = append(txt, "serial="+i.Serial)
	}
	if i.Board != "" {
		txt = append(txt, "board="+i.Board)
	}
	if i.CenterHz > 0 {
		txt = append(txt, fmt.Sprintf("freq=%.0f", i.CenterHz))
	}
	if i.SampleRate > 0 {
		txt = append(txt, fmt.Sprintf("rate=%.0f", i.SampleRate))
	}
	return txt
}

// Announcer keeps a service registration alive until Shutdown.
type Announcer struct {
	server *zeroconf.Server
	logger logging.Logger
}

// Register publishes info on every multicast-capable interface.
func Register(info Info, logger logging.Logger) (*Announcer, error) {
	logger = logging.For(logger, "announce")
	if info.Port <= 0 {
		return nil, fmt.Errorf("announce: invalid port %d", info.Port)
	}
	instance := info.Instance
	if instance == "" {
		instance = "bladerf-rx"
		if info.Serial != "" {
			instance += " " + info.Serial
		}
	}
	server, err := zeroconf.Register(instance, Service, Domain, info.Port, info.TXT(), nil)
	if err != nil {
		return nil, fmt.Errorf("register service: %w", err)
	}
	logger.Info("service announced",
		logging.F("instance", instance),
		logging.F("service", Service),
		logging.F("port", info.Port))
	return &Announcer{server: server, logger: logger}, nil
}

// Shutdown withdraws the registration.
func (a *Announcer) Shutdown() {
	if a == nil || a.server == nil {
		return
	}
	a.server.Shutdown()
	a.server = nil
	a.logger.Info("service withdrawn")
}

// Peer is a discovered receiver.
type Peer struct {
	Instance  string            `json:"instance"`
	Hostname  string            `json:"hostname"`
	Addresses []net.IP          `json:"addresses"`
	Port      int               `json:"port"`
	TXT       map[string]string `json:"txt"`
}

// Browse performs a blocking mDNS browse for receivers until timeout elapses.
// It returns cleaned and deduplicated entries sorted by instance name.
func Browse(ctx context.Context, timeout time.Duration) ([]Peer, error) {
	resolver, err := zeroconf.NewResolver(nil)
	if err != nil {
		return nil, fmt.Errorf("resolver error: %w", err)
	}

	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	entries := make(chan *zeroconf.ServiceEntry)
	results := make(map[string]Peer)

	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			select {
			case e, ok := <-entries:
				if !ok {
					return
				}
				if e == nil {
					continue
				}
				p := peerFromEntry(e)
				results[fmt.Sprintf("%s|%d", p.Hostname, p.Port)] = p
			case <-ctx.Done():
				return
			}
		}
	}()

	if err := resolver.Browse(ctx, Service, Domain, entries); err != nil {
		return nil, fmt.Errorf("browse error: %w", err)
	}

	<-done

	out := make([]Peer, 0, len(results))
	for _, p := range results {
		out = append(out, p)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Instance < out[j].Instance })
	return out, nil
}

func peerFromEntry(e *zeroconf.ServiceEntry) Peer {
	addrs := make([]net.IP, 0, len(e.AddrIPv4)+len(e.AddrIPv6))
	addrs = append(addrs, e.AddrIPv4...)
	addrs = append(addrs, e.AddrIPv6...)
	return Peer{
		Instance:  cleanInstance(e.Instance),
		Hostname:  e.HostName,
		Addresses: addrs,
		Port:      e.Port,
		TXT:       parseTXT(e.Text),
	}
}

func parseTXT(records []string) map[string]string {
	out := make(map[string]string, len(records))
	for _, rec := range records {
		key, value, _ := strings.Cut(rec, "=")
		if key == "" {
			continue
		}
		out[key] = value
	}
	return out
}

// cleanInstance removes Zeroconf escape sequences: "\ " => " "
func cleanInstance(s string) string {
	return strings.ReplaceAll(s, `\ `, " ")
}
