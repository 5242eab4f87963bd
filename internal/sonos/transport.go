package sonos

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"strconv"
	"strings"
)

// StartPlayback resumes playback of the current source.
func (c *Connector) StartPlayback(ctx context.Context, ip string) error {
	_, err := c.soapCall(ctx, ip, controlAVTransport, urnAVTransport, "Play", map[string]string{
		"InstanceID": "0",
		"Speed":      "1",
	})
	return err
}

// StopPlayback pauses the device. Error 701 (nothing to pause) counts as
// success.
func (c *Connector) StopPlayback(ctx context.Context, ip string) error {
	_, err := c.soapCall(ctx, ip, controlAVTransport, urnAVTransport, "Pause", map[string]string{
		"InstanceID": "0",
	})
	if err != nil && isTransitionUnavailable(err) {
		return nil
	}
	return err
}

// SetAVTransportURI points the device at a new source.
func (c *Connector) SetAVTransportURI(ctx context.Context, ip, uri, metadata string) error {
	_, err := c.soapCall(ctx, ip, controlAVTransport, urnAVTransport, "SetAVTransportURI", map[string]string{
		"InstanceID":         "0",
		"CurrentURI":         uri,
		"CurrentURIMetaData": metadata,
	})
	return err
}

// PlayStationURL tunes the device to an internet radio stream and starts
// playback.
func (c *Connector) PlayStationURL(ctx context.Context, ip, url string) error {
	if strings.TrimSpace(url) == "" {
		return fmt.Errorf("station url is empty")
	}
	uri := "x-rincon-mp3radio://" + stripScheme(url)
	if err := c.SetAVTransportURI(ctx, ip, uri, ""); err != nil {
		return err
	}
	return c.StartPlayback(ctx, ip)
}

// PlaySourceTrack plays a streaming source (Spotify style URL or a plain
// audio stream). When the primary source fails and a fallback station is
// given, the fallback is tuned instead.
func (c *Connector) PlaySourceTrack(ctx context.Context, ip, url, fallbackURL string) error {
	err := c.playSource(ctx, ip, url)
	if err == nil {
		return nil
	}
	if ctx.Err() != nil || strings.TrimSpace(fallbackURL) == "" {
		return err
	}
	if fbErr := c.PlayStationURL(ctx, ip, fallbackURL); fbErr != nil {
		return fmt.Errorf("source failed (%v), fallback failed: %w", err, fbErr)
	}
	return nil
}

func (c *Connector) playSource(ctx context.Context, ip, url string) error {
	uri, metadata, err := sourceURI(url)
	if err != nil {
		return err
	}
	if err := c.SetAVTransportURI(ctx, ip, uri, metadata); err != nil {
		return err
	}
	return c.StartPlayback(ctx, ip)
}

var spotifyRe = regexp.MustCompile(`(?:open\.spotify\.com/|spotify:)(track|album|playlist)[/:]([A-Za-z0-9]+)`)

// sourceURI converts a public source URL into a Sonos transport URI.
// Spotify links become x-sonos-spotify URIs; anything else is treated as
// a direct audio stream.
func sourceURI(url string) (uri, metadata string, err error) {
	url = strings.TrimSpace(url)
	if url == "" {
		return "", "", fmt.Errorf("source url is empty")
	}
	if m := spotifyRe.FindStringSubmatch(url); m != nil {
		kind, id := m[1], m[2]
		enc := "spotify%3a" + kind + "%3a" + id
		if kind == "track" {
			return "x-sonos-spotify:" + enc + "?sid=9&flags=8224&sn=1", spotifyMetadata("00032020" + enc), nil
		}
		return "x-rincon-cpcontainer:1006206c" + enc, spotifyMetadata("1006206c" + enc), nil
	}
	return "x-rincon-mp3radio://" + stripScheme(url), "", nil
}

func spotifyMetadata(itemID string) string {
	return `<DIDL-Lite xmlns:dc="http://purl.org/dc/elements/1.1/" xmlns:upnp="urn:schemas-upnp-org:metadata-1-0/upnp/" xmlns="urn:schemas-upnp-org:metadata-1-0/DIDL-Lite/">` +
		`<item id="` + itemID + `" restricted="true">` +
		`<upnp:class>object.item.audioItem.musicTrack</upnp:class>` +
		`<desc id="cdudn" nameSpace="urn:schemas-rinconnetworks-com:metadata-1-0/">SA_RINCON2311_X_#Svc2311-0-Token</desc>` +
		`</item></DIDL-Lite>`
}

func stripScheme(url string) string {
	url = strings.TrimPrefix(url, "https://")
	url = strings.TrimPrefix(url, "http://")
	return url
}

// GetVolume reads the master channel volume.
func (c *Connector) GetVolume(ctx context.Context, ip string) (int, error) {
	resp, err := c.soapCall(ctx, ip, controlRenderingControl, urnRenderingControl, "GetVolume", map[string]string{
		"InstanceID": "0",
		"Channel":    "Master",
	})
	if err != nil {
		return 0, err
	}
	n, err := strconv.Atoi(resp["CurrentVolume"])
	if err != nil {
		return 0, fmt.Errorf("GetVolume on %s: bad response %q", ip, resp["CurrentVolume"])
	}
	return n, nil
}

// SetVolume sets the master channel volume, bounded to [0, 100].
func (c *Connector) SetVolume(ctx context.Context, ip string, volume int) error {
	if volume < 0 {
		volume = 0
	}
	if volume > 100 {
		volume = 100
	}
	_, err := c.soapCall(ctx, ip, controlRenderingControl, urnRenderingControl, "SetVolume", map[string]string{
		"InstanceID":    "0",
		"Channel":       "Master",
		"DesiredVolume": strconv.Itoa(volume),
	})
	return err
}

// Ungroup detaches the device from any group it is part of. Safe to call
// on a standalone device.
func (c *Connector) Ungroup(ctx context.Context, ip string) error {
	_, err := c.soapCall(ctx, ip, controlAVTransport, urnAVTransport, "BecomeCoordinatorOfStandaloneGroup", map[string]string{
		"InstanceID": "0",
	})
	if err != nil && isTransitionUnavailable(err) {
		return nil
	}
	return err
}

// SetGroupCoordinator makes the device lead its own group.
func (c *Connector) SetGroupCoordinator(ctx context.Context, ip string) error {
	return c.Ungroup(ctx, ip)
}

// JoinGroup attaches member to the coordinator's group.
func (c *Connector) JoinGroup(ctx context.Context, coordinatorIP, memberIP string) error {
	uid, err := c.deviceUID(ctx, coordinatorIP)
	if err != nil {
		return fmt.Errorf("resolve coordinator %s: %w", coordinatorIP, err)
	}
	return c.SetAVTransportURI(ctx, memberIP, "x-rincon:"+uid, "")
}

// CreateGroup groups members under the coordinator. The first join error
// fails the whole call; callers treat a failed group as "play ungrouped".
func (c *Connector) CreateGroup(ctx context.Context, coordinatorIP string, memberIPs []string) error {
	uid, err := c.deviceUID(ctx, coordinatorIP)
	if err != nil {
		return fmt.Errorf("resolve coordinator %s: %w", coordinatorIP, err)
	}
	for _, member := range memberIPs {
		if err := c.SetAVTransportURI(ctx, member, "x-rincon:"+uid, ""); err != nil {
			return fmt.Errorf("join %s to %s: %w", member, coordinatorIP, err)
		}
	}
	return nil
}

var udnRe = regexp.MustCompile(`<UDN>uuid:([^<]+)</UDN>`)

// deviceUID fetches the device's RINCON identifier from its description
// document.
func (c *Connector) deviceUID(ctx context.Context, ip string) (string, error) {
	url := fmt.Sprintf("http://%s:%d/xml/device_description.xml", ip, c.port())
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return "", err
	}
	resp, err := c.HTTP.Do(req)
	if err != nil {
		return "", err
	}
	defer resp.Body.Close()
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return "", fmt.Errorf("device description on %s: http %d", ip, resp.StatusCode)
	}
	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return "", err
	}
	m := udnRe.FindSubmatch(data)
	if m == nil {
		return "", fmt.Errorf("device description on %s: no UDN found", ip)
	}
	return string(m[1]), nil
}
