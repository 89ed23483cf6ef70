package config

import (
	"fmt"
	"time"

	"github.com/pion/ice/v4"
	"github.com/pion/webrtc/v4"
	"github.com/samber/lo"
)

type WebRTCConfig struct {
	ICEPortRange []uint16             `toml:"portrange"`
	ICEServers   []ICEServerConfig    `toml:"iceserver"`
	NAT1To1IPs   []string             `toml:"nat1to1"`
	MDNS         bool                 `toml:"mdns"`
	Timeouts     WebRTCTimeoutsConfig `toml:"timeouts"`
}

type ICEServerConfig struct {
	URLs       []string `toml:"urls"`
	Username   string   `toml:"username"`
	Credential string   `toml:"credential"`
}

// WebRTCTimeoutsConfig values are in seconds.
type WebRTCTimeoutsConfig struct {
	ICEDisconnectedTimeout int `toml:"disconnected"`
	ICEFailedTimeout       int `toml:"failed"`
	ICEKeepaliveInterval   int `toml:"keepalive"`
}

func (c WebRTCTimeoutsConfig) isZero() bool {
	return c.ICEDisconnectedTimeout == 0 && c.ICEFailedTimeout == 0 && c.ICEKeepaliveInterval == 0
}

// Configuration builds the pion peer connection configuration.
func (c WebRTCConfig) Configuration() webrtc.Configuration {
	return webrtc.Configuration{
		ICEServers: lo.Map(c.ICEServers, func(s ICEServerConfig, _ int) webrtc.ICEServer {
			return webrtc.ICEServer{
				URLs:       s.URLs,
				Username:   s.Username,
				Credential: s.Credential,
			}
		}),
		SDPSemantics: webrtc.SDPSemanticsUnifiedPlan,
	}
}

// SettingEngine builds the pion setting engine for the configured ports,
// mDNS mode and ICE timeouts.
func (c WebRTCConfig) SettingEngine() (webrtc.SettingEngine, error) {
	se := webrtc.SettingEngine{}

	if len(c.ICEPortRange) == 2 {
		if err := se.SetEphemeralUDPPortRange(c.ICEPortRange[0], c.ICEPortRange[1]); err != nil {
			return webrtc.SettingEngine{}, fmt.Errorf("set port range: %w", err)
		}
	}

	if c.MDNS {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeQueryAndGather)
	} else {
		se.SetICEMulticastDNSMode(ice.MulticastDNSModeDisabled)
	}

	if !c.Timeouts.isZero() {
		se.SetICETimeouts(
			time.Duration(c.Timeouts.ICEDisconnectedTimeout)*time.Second,
			time.Duration(c.Timeouts.ICEFailedTimeout)*time.Second,
			time.Duration(c.Timeouts.ICEKeepaliveInterval)*time.Second,
		)
	}

	if len(c.NAT1To1IPs) > 0 {
		se.SetNAT1To1IPs(c.NAT1To1IPs, webrtc.ICECandidateTypeHost)
	}

	return se, nil
}
