package engine

import (
	"net"
	"strings"
)

// ExpandTrackerOverrides applies spec.md §4.2's tracker-override
// transformation: known aliases are expanded to concrete URLs, then any UDP
// URL that duplicates an HTTP URL already present at the same host:port is
// dropped. An HTTP(S) URL without an explicit port counts as its scheme's
// default port (80 or 443). The result is ready to be inserted at tier 0 ahead of a torrent's
// own trackers (the insertion itself happens at add-time, per New()).
func ExpandTrackerOverrides(aliases map[string]string, adds []string) []string {
	expanded := make([]string, 0, len(adds))
	for _, u := range adds {
		if target, ok := aliases[u]; ok {
			expanded = append(expanded, target)
		} else {
			expanded = append(expanded, u)
		}
	}

	httpHostPorts := map[string]struct{}{}
	for _, u := range expanded {
		if hp, ok := httpHostPort(u); ok {
			httpHostPorts[hp] = struct{}{}
		}
	}

	out := make([]string, 0, len(expanded))
	for _, u := range expanded {
		if hp, ok := udpHostPort(u); ok {
			if _, dup := httpHostPorts[hp]; dup {
				continue
			}
		}
		out = append(out, u)
	}
	return out
}

func httpHostPort(u string) (string, bool) {
	for _, scheme := range []string{"http://", "https://"} {
		if strings.HasPrefix(u, scheme) {
			hp := hostPortOf(strings.TrimPrefix(u, scheme))
			if _, _, err := net.SplitHostPort(hp); err != nil {
				port := "80"
				if scheme == "https://" {
					port = "443"
				}
				hp = net.JoinHostPort(strings.Trim(hp, "[]"), port)
			}
			return hp, true
		}
	}
	return "", false
}

func udpHostPort(u string) (string, bool) {
	if strings.HasPrefix(u, "udp://") {
		return hostPortOf(strings.TrimPrefix(u, "udp://")), true
	}
	return "", false
}

func hostPortOf(rest string) string {
	if i := strings.IndexAny(rest, "/?"); i >= 0 {
		rest = rest[:i]
	}
	return rest
}

// AddTrackers injects ad hoc tracker URLs at runtime (RPC `add-tracker`):
// the swarm library announces to them immediately but they are not
// persisted into the engine's configured overrides.
func (e *Engine) AddTrackers(urls []string) {
	if len(urls) == 0 {
		return
	}
	e.torrent.AddTrackers(urls)
}

// PublishTrackers merges urls into the engine's persisted override list
// (RPC `publish-tracker`), so they are honoured for the life of the engine,
// and triggers an immediate announce.
func (e *Engine) PublishTrackers(urls []string) {
	if len(urls) == 0 {
		return
	}
	e.mu.Lock()
	e.trackerOverrides = append(e.trackerOverrides, urls...)
	e.mu.Unlock()
	e.torrent.AddTrackers(urls)
}

// Trackers returns the torrent's current flattened announce list.
func (e *Engine) Trackers() []string {
	return e.torrent.Trackers()
}

// TrackerStatus reports the announce list alongside the configured
// overrides, for the `tracker-status` RPC command.
type TrackerStatus struct {
	Trackers  []string
	Overrides []string
}

// TrackerStatus returns the current tracker view.
func (e *Engine) TrackerStatus() TrackerStatus {
	e.mu.Lock()
	overrides := append([]string(nil), e.trackerOverrides...)
	e.mu.Unlock()
	return TrackerStatus{Trackers: e.torrent.Trackers(), Overrides: overrides}
}
