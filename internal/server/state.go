// Package server owns the live response state: the default and
// maintenance holder sets, the kick whitelist, the prepared disconnect
// packets and the occupancy updater task. Every administrative operation
// goes through the Manager.
package server

import (
	"fmt"
	"time"

	"github.com/energizer-project/pingcache/internal/config"
	"github.com/energizer-project/pingcache/internal/motd"
	"github.com/energizer-project/pingcache/internal/protocol"
	"github.com/energizer-project/pingcache/internal/text"
)

// state is one installed configuration. It is never modified after it
// is published; reload replaces it wholesale.
type state struct {
	generation  int64
	builtAt     time.Time
	snapshot    config.Snapshot
	defaultSet  *motd.HolderSet
	maintenance *motd.HolderSet
	kick        Disconnect
	login       Disconnect
	problems    int
	// announcement is the plain first description line, for LAN
	// announcements.
	announcement string
}

func (s *state) dispose() {
	if s == nil {
		return
	}
	s.defaultSet.Dispose()
	s.maintenance.Dispose()
}

func (s *state) sets() motd.Sets {
	return motd.Sets{Default: s.defaultSet, Maintenance: s.maintenance}
}

// Disconnect holds a prepared login disconnect in every wire form.
type Disconnect struct {
	// Modern carries hex colours, for 1.16+ clients.
	Modern []byte
	// Classic uses named colours only.
	Classic []byte
	// Legacy answers a pre-netty login handshake.
	Legacy []byte
}

// For returns the packet a client with the given protocol understands.
func (d Disconnect) For(protocolNumber int, legacy bool) []byte {
	switch {
	case legacy:
		return d.Legacy
	case protocolNumber >= motd.Protocol1_16:
		return d.Modern
	default:
		return d.Classic
	}
}

func newDisconnect(markup string, r *text.LegacyRenderer) (Disconnect, error) {
	var d Disconnect
	for _, v := range []struct {
		dst    *[]byte
		modern bool
	}{{&d.Modern, true}, {&d.Classic, false}} {
		reason, err := r.JSON(markup, v.modern)
		if err != nil {
			return Disconnect{}, fmt.Errorf("failed to render disconnect reason: %w", err)
		}
		if *v.dst, err = protocol.BuildLoginDisconnect(reason); err != nil {
			return Disconnect{}, fmt.Errorf("failed to encode disconnect: %w", err)
		}
	}
	legacy, err := protocol.BuildLegacyKick(r.Legacy(markup))
	if err != nil {
		return Disconnect{}, fmt.Errorf("failed to encode legacy disconnect: %w", err)
	}
	d.Legacy = legacy
	return d, nil
}

// contentSet converts a config content section to holder set input.
func contentSet(c config.ContentData, showProtocol bool) motd.SetConfig {
	def := motd.Source{
		VersionName:  c.VersionName,
		Descriptions: c.Descriptions,
		Favicons:     c.Favicons,
		Information:  c.Information,
	}
	domains := make(map[string]motd.Source, len(c.Domains))
	for host, d := range c.Domains {
		name := d.VersionName
		if name == "" {
			name = c.VersionName
		}
		domains[host] = motd.Source{
			VersionName:  name,
			Descriptions: d.Descriptions,
			Favicons:     d.Favicons,
			Information:  d.Information,
		}
	}
	return motd.SetConfig{
		Default: def,
		Versions: motd.VersionOverrides{
			Descriptions: c.Versions.Descriptions,
			Favicons:     c.Versions.Favicons,
			Information:  c.Versions.Information,
		},
		Domains:      domains,
		ShowProtocol: showProtocol,
	}
}

// Status is a point-in-time view of the manager for the API and console.
type Status struct {
	Generation  int64     `json:"generation"`
	BuiltAt     time.Time `json:"built_at"`
	Maintenance bool      `json:"maintenance"`
	// ShutdownScheduled is true while only the shutdown whitelist may connect.
	ShutdownScheduled bool           `json:"shutdown_scheduled"`
	Occupancy         motd.Occupancy `json:"occupancy"`
	LastUpdate        time.Time      `json:"last_update"`
	PlayerSource      string         `json:"player_source"`
	Default           motd.SetStats  `json:"default"`
	MaintenanceSet    motd.SetStats  `json:"maintenance_set"`
	Whitelist         int            `json:"whitelist"`
	Problems          int            `json:"problems"`
	UpdateRate        time.Duration  `json:"update_rate_ns"`
}
