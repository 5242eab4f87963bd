// Package sonos issues UPnP/SOAP commands to Sonos devices over HTTP.
package sonos

import (
	"context"
	"encoding/xml"
	"fmt"
	"io"
	"net/http"
	"regexp"
	"sort"
	"strconv"
	"strings"
	"time"
)

const (
	controlAVTransport      = "/MediaRenderer/AVTransport/Control"
	controlRenderingControl = "/MediaRenderer/RenderingControl/Control"
	urnAVTransport          = "urn:schemas-upnp-org:service:AVTransport:1"
	urnRenderingControl     = "urn:schemas-upnp-org:service:RenderingControl:1"

	defaultPort = 1400
)

// Connector talks to Sonos devices addressed by IP.
type Connector struct {
	HTTP *http.Client
	Port int
}

// NewConnector returns a connector with sane network timeouts.
func NewConnector() *Connector {
	return &Connector{
		HTTP: &http.Client{Timeout: 20 * time.Second},
		Port: defaultPort,
	}
}

func (c *Connector) port() int {
	if c.Port > 0 {
		return c.Port
	}
	return defaultPort
}

// UPnPError is a SOAP fault carrying a UPnP error code.
type UPnPError struct {
	Status int
	Code   int
}

func (e *UPnPError) Error() string {
	return fmt.Sprintf("upnp error %d (http %d)", e.Code, e.Status)
}

var errorCodeRe = regexp.MustCompile(`<errorCode>(\d+)</errorCode>`)

// soapCall posts a SOAP action and returns the child elements of the
// action response as a flat map.
func (c *Connector) soapCall(ctx context.Context, ip, path, urn, action string, args map[string]string) (map[string]string, error) {
	var body strings.Builder
	body.WriteString(`<?xml version="1.0" encoding="utf-8"?>`)
	body.WriteString(`<s:Envelope xmlns:s="http://schemas.xmlsoap.org/soap/envelope/" s:encodingStyle="http://schemas.xmlsoap.org/soap/encoding/">`)
	body.WriteString(`<s:Body><u:` + action + ` xmlns:u="` + urn + `">`)

	keys := make([]string, 0, len(args))
	for k := range args {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		body.WriteString("<" + k + ">" + xmlEscape(args[k]) + "</" + k + ">")
	}
	body.WriteString(`</u:` + action + `></s:Body></s:Envelope>`)

	url := fmt.Sprintf("http://%s:%d%s", ip, c.port(), path)
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, url, strings.NewReader(body.String()))
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", `text/xml; charset="utf-8"`)
	req.Header.Set("SOAPACTION", `"`+urn+`#`+action+`"`)

	resp, err := c.HTTP.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", action, ip, err)
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return nil, fmt.Errorf("%s on %s: %w", action, ip, err)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		if m := errorCodeRe.FindSubmatch(data); m != nil {
			code, _ := strconv.Atoi(string(m[1]))
			return nil, &UPnPError{Status: resp.StatusCode, Code: code}
		}
		return nil, fmt.Errorf("%s on %s: http %d", action, ip, resp.StatusCode)
	}

	return parseActionResponse(data), nil
}

// parseActionResponse collects leaf element text from the response body.
func parseActionResponse(data []byte) map[string]string {
	out := make(map[string]string)
	dec := xml.NewDecoder(strings.NewReader(string(data)))
	var current string
	for {
		tok, err := dec.Token()
		if err != nil {
			break
		}
		switch t := tok.(type) {
		case xml.StartElement:
			current = t.Name.Local
		case xml.CharData:
			if current != "" {
				out[current] += string(t)
			}
		case xml.EndElement:
			current = ""
		}
	}
	return out
}

func xmlEscape(s string) string {
	var b strings.Builder
	_ = xml.EscapeText(&b, []byte(s))
	return b.String()
}

// isTransitionUnavailable reports UPnP error 701, which Sonos returns for
// transport commands that are no-ops in the current state.
func isTransitionUnavailable(err error) bool {
	ue, ok := err.(*UPnPError)
	return ok && ue.Code == 701
}
