package network

import (
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/rs/zerolog"
)

// DefaultLANInterval is how often clients on the same network are told
// about the server.
const DefaultLANInterval = 1500 * time.Millisecond

// LANAnnouncer advertises the server to clients on the local network, the
// same way a game opened to LAN does: a UDP datagram sent to the
// 224.0.2.60:4445 multicast group carrying the MOTD and the port.
type LANAnnouncer struct {
	group    string
	port     int
	interval time.Duration
	motd     func() string
	logger   zerolog.Logger
}

// NewLANAnnouncer creates an announcer. motd is called before every
// datagram, so content reloads are picked up.
func NewLANAnnouncer(group string, port int, interval time.Duration, motd func() string, logger zerolog.Logger) *LANAnnouncer {
	if interval <= 0 {
		interval = DefaultLANInterval
	}
	return &LANAnnouncer{
		group:    group,
		port:     port,
		interval: interval,
		motd:     motd,
		logger:   logger,
	}
}

// LANMessage formats one announcement.
func LANMessage(motd string, port int) []byte {
	// Brackets would end the MOTD tag early.
	motd = strings.NewReplacer("[", "(", "]", ")", "\n", " ").Replace(motd)
	return []byte("[MOTD]" + motd + "[/MOTD][AD]" + strconv.Itoa(port) + "[/AD]")
}

// Start announces until ctx is cancelled.
func (a *LANAnnouncer) Start(ctx context.Context) error {
	conn, err := net.Dial("udp4", a.group)
	if err != nil {
		return fmt.Errorf("failed to open LAN announce socket for %s: %w", a.group, err)
	}
	defer conn.Close()

	a.logger.Info().Str("group", a.group).Int("port", a.port).Dur("interval", a.interval).Msg("LAN announcer started")

	ticker := time.NewTicker(a.interval)
	defer ticker.Stop()

	failures := 0
	for {
		if _, err := conn.Write(LANMessage(a.motd(), a.port)); err != nil {
			failures++
			// Warn once per failure streak.
			if failures == 1 {
				a.logger.Warn().Err(err).Msg("failed to send LAN announcement")
			}
		} else if failures > 0 {
			a.logger.Info().Int("failed", failures).Msg("LAN announcements resumed")
			failures = 0
		}

		select {
		case <-ctx.Done():
			a.logger.Info().Msg("LAN announcer stopping")
			return nil
		case <-ticker.C:
		}
	}
}
