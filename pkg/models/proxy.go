package models

import (
	"errors"
	"fmt"
	"time"

	"github.com/uptrace/bun"
)

// ErrNotFound reports that the requested proxy does not exist.
var ErrNotFound = errors.New("proxy not found")

// ProxyType is the kind of forward proxy an endpoint speaks.
type ProxyType string

const (
	HTTPProxy ProxyType = "http"
)

// ProtocolResult holds the outcome of one probe protocol. A latency of -1
// means the target was not reachable (or was never probed).
type ProtocolResult struct {
	Status  bool  `bun:"status,notnull,default:false" json:"status"`
	Latency int64 `bun:"latency,notnull,default:-1" json:"latency"`
}

// Unreachable is the result recorded for any failed probe.
var Unreachable = ProtocolResult{Status: false, Latency: -1}

type Proxy struct {
	bun.BaseModel `bun:"table:proxies,alias:p"`

	ID   string    `bun:",pk" json:"id"`
	Type ProxyType `bun:",notnull,unique:proxies_endpoint_key" json:"type"`
	Host string    `bun:",notnull,unique:proxies_endpoint_key" json:"host"`
	Port int       `bun:",notnull,unique:proxies_endpoint_key" json:"port"`

	Source  string    `bun:",notnull" json:"source"`
	AddTime time.Time `bun:",notnull" json:"addTime"`

	HTTP  ProtocolResult `bun:"embed:http_" json:"http"`
	HTTPS ProtocolResult `bun:"embed:https_" json:"https"`

	CheckSuccessCount int       `bun:",notnull,default:0" json:"checkSuccessCount"`
	CheckFailCount    int       `bun:",notnull,default:0" json:"checkFailCount"`
	Checking          bool      `bun:",notnull,default:false" json:"checking"`
	LastCheckTime     time.Time `bun:",notnull" json:"lastCheckTime"`

	Country string `bun:",nullzero" json:"country,omitempty"`
	ASOrg   string `bun:",nullzero" json:"asOrg,omitempty"`
}

// URL returns the endpoint in the form a proxy-aware HTTP client expects.
func (p *Proxy) URL() string {
	return fmt.Sprintf("http://%s:%d", p.Host, p.Port)
}

// Endpoint identifies a proxy within a fetch batch, for deduplication.
func (p *Proxy) Endpoint() string {
	return fmt.Sprintf("%s://%s:%d", p.Type, p.Host, p.Port)
}

// Filter is the availability predicate used when serving or counting
// proxies. MaxLatency <= 0 disables the latency condition.
type Filter struct {
	OnlyHTTPS       bool
	MaxLatency      int64
	MinSuccessCount int
	MaxFailCount    int
}

// DefaultFilter returns the filter used by the ingestion trigger and the
// status snapshot: more than one successful cycle, failure budget intact.
func DefaultFilter(failLimit int) Filter {
	return Filter{MinSuccessCount: 1, MaxFailCount: failLimit}
}
