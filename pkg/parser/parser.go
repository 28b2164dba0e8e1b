// Package parser turns raw proxy-list text into candidate records. It is a
// pure transform: no network, no store access.
package parser

import (
	"log/slog"
	"regexp"
	"strconv"
	"strings"
	"time"

	"proxy-pool/pkg/models"
)

// ipPortPattern matches an IPv4 dotted quad followed by a 2-5 digit port.
var ipPortPattern = regexp.MustCompile(`^([0-1]?\d{1,2}|2([0-4][0-9]|5[0-5]))(\.([0-1]?\d{1,2}|2([0-4][0-9]|5[0-5]))){3}:\d{2,5}$`)

// ParseText extracts one candidate per line from data. Lines that don't
// match the host:port pattern are skipped silently; a matching line that
// still fails to parse is logged and skipped.
func ParseText(sourceName, data string) []models.Proxy {
	addTime := time.Now().UTC()
	var proxies []models.Proxy

	for _, line := range strings.Split(data, "\n") {
		endpoint := strings.TrimSpace(line)
		if !ipPortPattern.MatchString(endpoint) {
			continue
		}

		host, portStr, found := strings.Cut(endpoint, ":")
		if !found {
			continue
		}
		port, err := strconv.Atoi(portStr)
		if err != nil {
			slog.Error("Failed to parse proxy line", "line", endpoint, "error", err)
			continue
		}

		proxies = append(proxies, models.Proxy{
			Type:    models.HTTPProxy,
			Host:    host,
			Port:    port,
			Source:  sourceName,
			AddTime: addTime,
			HTTP:    models.Unreachable,
			HTTPS:   models.Unreachable,
		})
	}
	return proxies
}
