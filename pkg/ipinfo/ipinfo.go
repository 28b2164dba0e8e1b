// Package ipinfo annotates proxies with geo/AS data from ipinfo.io. The
// lookup is best effort: enrichment failures never affect health state.
package ipinfo

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
	"time"

	"proxy-pool/pkg/models"

	"github.com/spf13/viper"
)

const lookupTimeout = 5 * time.Second

type Response struct {
	IP       string `json:"ip"`
	Hostname string `json:"hostname"`
	City     string `json:"city"`
	Region   string `json:"region"`
	Country  string `json:"country"`
	Org      string `json:"org"`
	Timezone string `json:"timezone"`
}

// Enabled reports whether an API token is configured.
func Enabled() bool {
	return viper.GetString("ipinfo.token") != ""
}

func Lookup(ctx context.Context, ip string) (Response, error) {
	ctx, cancel := context.WithTimeout(ctx, lookupTimeout)
	defer cancel()

	url := fmt.Sprintf("https://ipinfo.io/%s?token=%s", ip, viper.GetString("ipinfo.token"))
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return Response{}, err
	}

	resp, err := http.DefaultClient.Do(req)
	if err != nil {
		return Response{}, err
	}
	defer resp.Body.Close()

	var info Response
	if err := json.NewDecoder(resp.Body).Decode(&info); err != nil {
		return Response{}, err
	}
	return info, nil
}

// UpdateProxy copies the lookup result onto a proxy record. The "org"
// field carries "AS#### Name"; only the name part is kept.
func UpdateProxy(proxy *models.Proxy, info Response) {
	orgParts := strings.SplitN(info.Org, " ", 2)
	if len(orgParts) == 2 && strings.HasPrefix(orgParts[0], "AS") {
		proxy.ASOrg = orgParts[1]
	} else {
		proxy.ASOrg = info.Org
	}
	proxy.Country = info.Country
}
